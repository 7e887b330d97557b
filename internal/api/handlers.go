package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pulse/notification-service/internal/api/middleware"
	"github.com/pulse/notification-service/internal/domain/notification"
)

type Handlers struct {
	store notification.Store
}

func NewHandlers(store notification.Store) *Handlers {
	return &Handlers{store: store}
}

// ListNotifications returns the caller's notifications, newest first.
// Query params: unread=true, limit=N.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipientID := middleware.RecipientID(r.Context())

	opts := notification.ListOptions{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	list, err := h.store.ListByRecipient(r.Context(), recipientID, opts)
	if err != nil {
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*notification.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"notifications": list,
	})
}

// MarkRead marks one notification read; the WebSocket ack frame is the
// primary path, this is the REST fallback used by the web client.
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
