package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists is returned by Create when a notification for the
	// same (recipient_id, source_event_id) pair is already persisted.
	ErrAlreadyExists = errors.New("notification already exists")

	ErrNotFound = errors.New("notification not found")
)

// Notification type constants, projected from upstream event types.
const (
	TypeFollow        = "FOLLOW"
	TypeLike          = "LIKE"
	TypeComment       = "COMMENT"
	TypeMention       = "POST_MENTION"
	TypeShare         = "POST_SHARE"
	TypeMessage       = "MESSAGE"
	TypeSecurityAlert = "SECURITY_ALERT"
	TypeSystem        = "SYSTEM"
)

// Notification is the durable per-recipient projection of a DomainEvent.
// DeliveredAt and ReadAt are set at most once each.
type Notification struct {
	ID            string          `json:"id"`
	RecipientID   string          `json:"recipient_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	SourceEventID string          `json:"source_event_id"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	ReadAt        *time.Time      `json:"read_at,omitempty"`
}

// ListOptions filters ListByRecipient.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
}

// Store is the persistence boundary of the delivery core. The backing store
// must provide read-your-writes consistency within a single recipient's
// notification list so backlog replay on reconnect sees every prior create.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	MarkDelivered(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	ListUndelivered(ctx context.Context, recipientID string) ([]*Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, opts ListOptions) ([]*Notification, error)
	ExistsForSourceEvent(ctx context.Context, recipientID, sourceEventID string) (bool, error)
}
