package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulse/notification-service/internal/auth"
	"github.com/pulse/notification-service/internal/domain/notification"
)

// Session lifecycle. A session is created in stateAuthenticated (the upgrade
// and token check happen before construction), replays its backlog, then
// moves to stateOpen for live pushes.
const (
	stateAuthenticated int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// Session owns exactly one WebSocket connection. The connection handle never
// leaves this instance; cross-instance reach happens through the presence
// relay only.
type Session struct {
	id        string
	principal auth.Principal
	conn      *websocket.Conn
	mgr       *Manager

	send      chan *notification.Notification
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func (s *Session) recipientID() string {
	return s.principal.RecipientID
}

// enqueue hands a notification to the write pump. A full buffer drops the
// push; the row stays undelivered and is replayed on the next connect.
func (s *Session) enqueue(n *notification.Notification) {
	select {
	case s.send <- n:
	case <-s.done:
	default:
		pushesDropped.Inc()
		slog.Warn("session send buffer full, dropping push",
			"session_id", s.id, "recipient_id", s.recipientID(), "notification_id", n.ID)
	}
}

// run drives the session after registration: backlog replay strictly first,
// then the live pumps. Pushes dispatched during replay sit in the send
// buffer until the write pump starts, preserving creation order on the wire.
func (s *Session) run() {
	if !s.replayBacklog() {
		s.close(websocket.CloseInternalServerErr, "backlog replay failed")
		return
	}

	s.state.Store(stateOpen)

	go s.writePump()
	s.readPump()
}

func (s *Session) replayBacklog() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.OpTimeout)
	backlog, err := s.mgr.store.ListUndelivered(ctx, s.recipientID())
	cancel()
	if err != nil {
		slog.Error("failed to list undelivered notifications",
			"recipient_id", s.recipientID(), "error", err)
		return false
	}

	for _, n := range backlog {
		if err := s.writeNotification(n); err != nil {
			slog.Warn("backlog write failed", "session_id", s.id, "error", err)
			return false
		}
		backlogReplayed.Inc()
	}

	return true
}

// writeNotification writes the frame and, only after the transport accepted
// it, marks the row delivered. A failed mark leaves the row undelivered; the
// client may then see the notification twice and dedups by source_event_id.
func (s *Session) writeNotification(n *notification.Notification) error {
	frame, err := notificationFrame(n)
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.mgr.opts.WriteTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		return err
	}
	pushesTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.OpTimeout)
	defer cancel()
	if err := s.mgr.store.MarkDelivered(ctx, n.ID); err != nil {
		// Soft failure: the notification reached the socket but stays
		// undelivered in the store and will be replayed on reconnect.
		slog.Warn("failed to mark delivered", "notification_id", n.ID, "error", err)
	}

	return nil
}

func (s *Session) writePump() {
	pingTicker := time.NewTicker(s.mgr.opts.IdleTimeout / 2)
	heartbeatTicker := time.NewTicker(s.mgr.opts.HeartbeatInterval)
	reauthTicker := time.NewTicker(s.mgr.opts.RevalidateInterval)
	defer pingTicker.Stop()
	defer heartbeatTicker.Stop()
	defer reauthTicker.Stop()

	for {
		select {
		case <-s.done:
			return

		case n := <-s.send:
			if err := s.writeNotification(n); err != nil {
				slog.Warn("push write failed", "session_id", s.id, "error", err)
				s.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-pingTicker.C:
			deadline := time.Now().Add(s.mgr.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-heartbeatTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.OpTimeout)
			err := s.mgr.presence.Heartbeat(ctx, s.recipientID(), s.mgr.opts.InstanceID)
			cancel()
			if err != nil {
				// Presence is best-effort; the entry self-heals on the next beat.
				slog.Warn("presence heartbeat failed", "recipient_id", s.recipientID(), "error", err)
			}

		case <-reauthTicker.C:
			if s.mgr.validator.Expired(s.principal, time.Now()) {
				slog.Info("credential expired, force-closing session",
					"session_id", s.id, "recipient_id", s.recipientID())
				s.close(CloseExpiredToken, "token expired")
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer s.close(websocket.CloseNormalClosure, "")

	refresh := func() {
		s.conn.SetReadDeadline(time.Now().Add(s.mgr.opts.IdleTimeout))
	}
	refresh()
	s.conn.SetPongHandler(func(string) error {
		refresh()
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		refresh()
		// A client heartbeat also refreshes the presence entry, alongside
		// the server-side ticker in writePump.
		ctx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.OpTimeout)
		err := s.mgr.presence.Heartbeat(ctx, s.recipientID(), s.mgr.opts.InstanceID)
		cancel()
		if err != nil {
			slog.Warn("presence heartbeat failed", "recipient_id", s.recipientID(), "error", err)
		}
		deadline := time.Now().Add(s.mgr.opts.WriteTimeout)
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "session_id", s.id, "error", err)
			}
			return
		}
		refresh()

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid frame", "session_id", s.id, "error", err)
			continue
		}

		if frame.Type == FrameAck {
			s.handleAck(frame.Data)
		}
	}
}

func (s *Session) handleAck(data json.RawMessage) {
	var ack AckData
	if err := json.Unmarshal(data, &ack); err != nil || ack.ID == "" {
		slog.Warn("invalid ack payload", "session_id", s.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.OpTimeout)
	defer cancel()

	var err error
	switch ack.Status {
	case AckRead:
		err = s.mgr.store.MarkRead(ctx, ack.ID)
	case AckDelivered:
		err = s.mgr.store.MarkDelivered(ctx, ack.ID)
	default:
		slog.Warn("unknown ack status", "session_id", s.id, "status", ack.Status)
		return
	}
	if err != nil {
		slog.Warn("failed to apply ack", "notification_id", ack.ID, "status", ack.Status, "error", err)
	}
}

// close runs the Closing transition once: the presence entry is removed
// synchronously before the socket goes away, so a relay cannot be routed to
// an instance that no longer holds the connection.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(stateClosing)

		s.mgr.remove(s)

		deadline := time.Now().Add(s.mgr.opts.WriteTimeout)
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

		close(s.done)
		s.conn.Close()
		s.state.Store(stateClosed)
	})
}
