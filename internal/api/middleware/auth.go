package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pulse/notification-service/internal/auth"
)

type contextKey string

const recipientIDKey contextKey = "recipient_id"

// Auth gates REST routes on the same bearer credential used at the
// WebSocket upgrade and stores the verified recipient in the context.
func Auth(validator *auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, `{"error": "missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			principal, err := validator.Validate(token)
			if err != nil {
				status := http.StatusUnauthorized
				msg := `{"error": "invalid token"}`
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = `{"error": "token expired"}`
				}
				http.Error(w, msg, status)
				return
			}

			ctx := context.WithValue(r.Context(), recipientIDKey, principal.RecipientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecipientID returns the verified recipient stored by Auth, or "".
func RecipientID(ctx context.Context) string {
	if id, ok := ctx.Value(recipientIDKey).(string); ok {
		return id
	}
	return ""
}
