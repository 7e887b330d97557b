package ws

import (
	"encoding/json"

	"github.com/pulse/notification-service/internal/domain/notification"
)

// Close codes emitted on auth failure, alongside the standard 1000 for
// normal closure.
const (
	CloseInvalidToken = 4001
	CloseExpiredToken = 4002
)

// Frame types exchanged after the handshake.
const (
	FrameNotification = "notification"
	FrameAck          = "ack"
)

// Ack statuses a client may report.
const (
	AckDelivered = "delivered"
	AckRead      = "read"
)

// Frame is the JSON envelope for every data message on the socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AckData is the client→server acknowledgement payload.
type AckData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func notificationFrame(n *notification.Notification) (*Frame, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameNotification, Data: data}, nil
}
