package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/notification-service/internal/auth"
	"github.com/pulse/notification-service/internal/domain/notification"
)

const testSecret = "test-secret"

type fakeStore struct {
	notification.Store

	byRecipient map[string][]*notification.Notification
	lastOpts    notification.ListOptions
	read        []string
	readErr     error
}

func (s *fakeStore) ListByRecipient(_ context.Context, recipientID string, opts notification.ListOptions) ([]*notification.Notification, error) {
	s.lastOpts = opts
	return s.byRecipient[recipientID], nil
}

func (s *fakeStore) MarkRead(_ context.Context, id string) error {
	if s.readErr != nil {
		return s.readErr
	}
	s.read = append(s.read, id)
	return nil
}

type wsStub struct{}

func (wsStub) HandleUpgrade(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestRouter(store *fakeStore) http.Handler {
	validator := auth.NewValidator(testSecret, 30*time.Second)
	return NewRouter(NewHandlers(store), wsStub{}, validator)
}

func TestListNotifications_RequiresToken(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListNotifications_ReturnsCallersNotifications(t *testing.T) {
	store := &fakeStore{
		byRecipient: map[string][]*notification.Notification{
			"u1": {
				{ID: "n1", RecipientID: "u1", Type: notification.TypeFollow, SourceEventID: "e1"},
			},
		},
	}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=true&limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.lastOpts.UnreadOnly)
	assert.Equal(t, 5, store.lastOpts.Limit)

	var body struct {
		Notifications []*notification.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "n1", body.Notifications[0].ID)
}

func TestListNotifications_RejectsBadLimit(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	for _, limit := range []string{"0", "-1", "101", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit="+limit, nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestListNotifications_EmptyListIsNotNull(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notifications": []}`, rec.Body.String())
}

func TestMarkRead(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/n1/read", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"n1"}, store.read)
}

func TestMarkRead_NotFound(t *testing.T) {
	store := &fakeStore{readErr: notification.ErrNotFound}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/missing/read", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
