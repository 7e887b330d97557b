package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulse/notification-service/internal/auth"
	"github.com/pulse/notification-service/internal/domain/notification"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Number of currently open WebSocket sessions",
	})
	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_auth_failures_total",
		Help: "WebSocket upgrades refused for credential failures",
	}, []string{"reason"})
	pushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_pushes_total",
		Help: "Notification frames written to sockets",
	})
	pushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_pushes_dropped_total",
		Help: "Pushes dropped because a session buffer was full",
	})
	backlogReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_backlog_replayed_total",
		Help: "Notifications replayed from the store on reconnect",
	})
)

// PresenceClient is the slice of the presence registry the connection
// manager needs.
type PresenceClient interface {
	Register(ctx context.Context, recipientID, instanceID string) error
	Heartbeat(ctx context.Context, recipientID, instanceID string) error
	Unregister(ctx context.Context, recipientID, instanceID string) error
}

type Options struct {
	InstanceID         string
	IdleTimeout        time.Duration
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	RevalidateInterval time.Duration
	OpTimeout          time.Duration
	SendBuffer         int
}

// Manager is the per-instance table of live sessions. Sessions are owned
// exclusively by the manager that accepted the upgrade.
type Manager struct {
	validator *auth.Validator
	store     notification.Store
	presence  PresenceClient
	opts      Options
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[string]*Session // recipient_id -> session_id
	nextID   uint64
}

func NewManager(validator *auth.Validator, store notification.Store, presence PresenceClient, opts Options) *Manager {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Manager{
		validator: validator,
		store:     store,
		presence:  presence,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]map[string]*Session),
	}
}

// HandleUpgrade accepts the WebSocket handshake, then gates on the token.
// Auth failures close the fresh socket with 4001/4002 instead of an HTTP
// status so clients can distinguish invalid from expired credentials.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	principal, err := m.validator.Validate(token)
	if err != nil {
		code := CloseInvalidToken
		reason := "invalid token"
		if errors.Is(err, auth.ErrExpiredToken) {
			code = CloseExpiredToken
			reason = "token expired"
			authFailures.WithLabelValues("expired").Inc()
		} else {
			authFailures.WithLabelValues("invalid").Inc()
		}

		deadline := time.Now().Add(m.opts.WriteTimeout)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		conn.Close()
		return
	}

	s := &Session{
		principal: principal,
		conn:      conn,
		mgr:       m,
		send:      make(chan *notification.Notification, m.opts.SendBuffer),
		done:      make(chan struct{}),
	}
	s.state.Store(stateAuthenticated)

	m.add(s)

	go s.run()
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.nextID++
	s.id = fmt.Sprintf("%s-%d", s.recipientID(), m.nextID)
	recipient := m.sessions[s.recipientID()]
	if recipient == nil {
		recipient = make(map[string]*Session)
		m.sessions[s.recipientID()] = recipient
	}
	recipient[s.id] = s
	m.mu.Unlock()

	activeConnections.Inc()
	slog.Info("session connected", "session_id", s.id, "recipient_id", s.recipientID())

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OpTimeout)
	defer cancel()
	if err := m.presence.Register(ctx, s.recipientID(), m.opts.InstanceID); err != nil {
		// Degraded mode: local pushes still work, cross-instance reach is
		// restored by the heartbeat ticker once the registry recovers.
		slog.Warn("presence register failed", "recipient_id", s.recipientID(), "error", err)
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	var lastForRecipient bool
	if recipient, ok := m.sessions[s.recipientID()]; ok {
		if _, ok := recipient[s.id]; ok {
			delete(recipient, s.id)
			activeConnections.Dec()
		}
		if len(recipient) == 0 {
			delete(m.sessions, s.recipientID())
			lastForRecipient = true
		}
	}
	m.mu.Unlock()

	if lastForRecipient {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.OpTimeout)
		defer cancel()
		if err := m.presence.Unregister(ctx, s.recipientID(), m.opts.InstanceID); err != nil {
			slog.Warn("presence unregister failed", "recipient_id", s.recipientID(), "error", err)
		}
	}

	slog.Info("session disconnected", "session_id", s.id, "recipient_id", s.recipientID())
}

// Push enqueues the notification on every local session of the recipient
// and reports whether any session existed.
func (m *Manager) Push(_ context.Context, n *notification.Notification) bool {
	m.mu.RLock()
	recipient := m.sessions[n.RecipientID]
	sessions := make([]*Session, 0, len(recipient))
	for _, s := range recipient {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.enqueue(n)
	}

	return len(sessions) > 0
}

// CloseAll closes every session with a normal closure; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	var all []*Session
	for _, recipient := range m.sessions {
		for _, s := range recipient {
			all = append(all, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.close(websocket.CloseNormalClosure, "server shutting down")
	}
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for browser clients that cannot set
// headers on a WebSocket handshake.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
