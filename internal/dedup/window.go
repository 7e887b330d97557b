package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a bounded-TTL seen-index for consumed events, keyed by
// (recipient, event). It is a fast path only: the unique
// (recipient_id, source_event_id) index in the store is the backstop, so a
// Redis failure degrades to fail-open rather than blocking consumption.
type Window struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWindow(client *redis.Client, ttl time.Duration) *Window {
	return &Window{
		client: client,
		ttl:    ttl,
	}
}

func key(recipientID, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", recipientID, eventID)
}

// Seen reports whether the pair was already processed within the window.
// Checking never marks: a transient store failure after the check must stay
// retryable, so the mark is written only once the notification is durable.
func (w *Window) Seen(ctx context.Context, recipientID, eventID string) (bool, error) {
	n, err := w.client.Exists(ctx, key(recipientID, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}

	return n > 0, nil
}

// Mark records the pair as processed for the length of the window.
func (w *Window) Mark(ctx context.Context, recipientID, eventID string) error {
	if err := w.client.Set(ctx, key(recipientID, eventID), "1", w.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}

	return nil
}
