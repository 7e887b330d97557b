package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulse/notification-service/internal/api/middleware"
	"github.com/pulse/notification-service/internal/auth"
)

// WebSocketHandler is the upgrade entry point of the connection manager.
type WebSocketHandler interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request)
}

func NewRouter(h *Handlers, wsHandler WebSocketHandler, validator *auth.Validator) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.Recoverer)
	r.Use(ChiMiddleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Token is checked after the upgrade so auth failures surface as
	// structured close codes, not HTTP statuses.
	r.Get("/ws", wsHandler.HandleUpgrade)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(validator))
		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkRead)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
