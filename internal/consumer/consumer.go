package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulse/notification-service/internal/domain/event"
	"github.com/pulse/notification-service/internal/domain/notification"
)

var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_processed_total",
		Help: "The total number of processed domain events",
	})
	dedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_dedup_hits_total",
		Help: "Events discarded as duplicates",
	})
	deadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_dead_lettered_total",
		Help: "Events routed to the dead-letter topic after exhausting retries",
	})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to persist and dispatch one event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// ErrPoisonMessage marks an event that exceeded the retry budget and was
// routed to the dead-letter topic.
var ErrPoisonMessage = errors.New("poison message")

// Queue is the at-least-once ingress: messages are fetched, processed and
// only then committed.
type Queue interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// DeadLetterProducer receives messages that exhausted their retries.
type DeadLetterProducer interface {
	SendMessage(ctx context.Context, key, value []byte) error
}

// DedupWindow is the bounded seen-index consulted before the store write.
// Seen must not mark; Mark is called only after the notification is durable
// so a transient store failure leaves the event retryable.
type DedupWindow interface {
	Seen(ctx context.Context, recipientID, eventID string) (bool, error)
	Mark(ctx context.Context, recipientID, eventID string) error
}

// Dispatcher hands a freshly persisted notification to the delivery path.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *notification.Notification)
}

// notificationTypes maps upstream event types onto stored notification
// types. Unknown types are acknowledged and skipped.
var notificationTypes = map[string]string{
	event.TypeUserFollowed:  notification.TypeFollow,
	event.TypePostLiked:     notification.TypeLike,
	event.TypePostCommented: notification.TypeComment,
	event.TypeUserMentioned: notification.TypeMention,
	event.TypePostShared:    notification.TypeShare,
	event.TypeMessageSent:   notification.TypeMessage,
	event.TypeUserBlocked:   notification.TypeSecurityAlert,
	event.TypeSystem:        notification.TypeSystem,
}

type Consumer struct {
	queue      Queue
	store      notification.Store
	dedup      DedupWindow
	dispatcher Dispatcher
	dlq        DeadLetterProducer

	maxRetries int
	opTimeout  time.Duration
	// backoffBase is the unit of the exponential retry delay.
	backoffBase time.Duration
}

func New(queue Queue, store notification.Store, dedup DedupWindow, dispatcher Dispatcher, dlq DeadLetterProducer, maxRetries int, opTimeout time.Duration) *Consumer {
	return &Consumer{
		queue:       queue,
		store:       store,
		dedup:       dedup,
		dispatcher:  dispatcher,
		dlq:         dlq,
		maxRetries:  maxRetries,
		opTimeout:   opTimeout,
		backoffBase: time.Second,
	}
}

// Run fetches and processes messages until ctx is cancelled. A message is
// committed once its notification is durable, once it proves to be a
// duplicate or garbage, or after it has been dead-lettered. It is never
// silently dropped.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.queue.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to fetch message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("message handling failed", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * c.backoffBase
			slog.Info("retrying event", "attempt", attempt, "max", c.maxRetries, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.process(ctx, msg.Value)
		if err == nil {
			return c.queue.CommitMessages(ctx, msg)
		}

		if attempt >= c.maxRetries {
			return c.deadLetter(ctx, msg, err)
		}

		slog.Error("event processing failed", "error", err, "attempt", attempt)
	}
}

func (c *Consumer) process(ctx context.Context, value []byte) error {
	started := time.Now()

	var ev event.DomainEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		// Not our envelope (or corrupt). Ack and move on.
		slog.Error("failed to unmarshal event envelope", "error", err)
		return nil
	}
	if ev.EventID == "" || ev.RecipientID == "" {
		slog.Warn("event missing identity fields, skipping", "event_id", ev.EventID)
		return nil
	}

	notifType, ok := notificationTypes[ev.Type]
	if !ok {
		slog.Info("unhandled event type, skipping", "type", ev.Type, "event_id", ev.EventID)
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	seen, err := c.dedup.Seen(opCtx, ev.RecipientID, ev.EventID)
	cancel()
	if err != nil {
		// Fail open: the store's unique index still rejects duplicates.
		slog.Warn("dedup window unavailable", "error", err)
	} else if seen {
		dedupHits.Inc()
		return nil
	}

	n := &notification.Notification{
		ID:            uuid.NewString(),
		RecipientID:   ev.RecipientID,
		Type:          notifType,
		Payload:       ev.Payload,
		SourceEventID: ev.EventID,
		CreatedAt:     time.Now().UTC(),
	}

	opCtx, cancel = context.WithTimeout(ctx, c.opTimeout)
	err = c.store.Create(opCtx, n)
	cancel()
	if errors.Is(err, notification.ErrAlreadyExists) {
		dedupHits.Inc()
		c.markSeen(ctx, ev)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	c.markSeen(ctx, ev)

	// Delivery is best-effort from here: the row is durable, and anything
	// a push attempt misses is covered by backlog replay.
	c.dispatcher.Dispatch(ctx, n)

	processingDuration.Observe(time.Since(started).Seconds())
	eventsProcessed.Inc()
	slog.Info("notification created",
		"notification_id", n.ID, "recipient_id", n.RecipientID, "type", n.Type, "event_id", ev.EventID)
	return nil
}

// markSeen records the event in the dedup window after its row is durable.
// A failed mark only costs one extra store round trip on redelivery.
func (c *Consumer) markSeen(ctx context.Context, ev event.DomainEvent) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.dedup.Mark(opCtx, ev.RecipientID, ev.EventID); err != nil {
		slog.Warn("failed to mark dedup window", "event_id", ev.EventID, "error", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafkago.Message, cause error) error {
	deadLettered.Inc()
	slog.Error("DLQ: routing message after retries", "retries", c.maxRetries, "error", cause)

	if err := c.dlq.SendMessage(ctx, msg.Key, msg.Value); err != nil {
		// Do not commit: queue redelivery keeps the message alive until the
		// dead-letter topic accepts it.
		return fmt.Errorf("dead-letter publish: %w", err)
	}

	if err := c.queue.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit dead-lettered message: %w", err)
	}

	return fmt.Errorf("%w: %v", ErrPoisonMessage, cause)
}
