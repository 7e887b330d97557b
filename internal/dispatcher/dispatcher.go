package dispatcher

import (
	"context"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulse/notification-service/internal/domain/notification"
	"github.com/pulse/notification-service/internal/presence"
)

var (
	relayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_relay_published_total",
		Help: "Notifications published to the cross-instance relay channel",
	})
	relayReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_relay_received_total",
		Help: "Relay messages received from other instances",
	})
	localPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_local_pushes_total",
		Help: "Notifications handed to the local connection manager",
	})
	registryDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_registry_degraded_total",
		Help: "Dispatches that fell back to local-only delivery",
	})
)

// Registry is the slice of the presence registry the dispatcher uses.
type Registry interface {
	ListInstances(ctx context.Context, recipientID string) ([]string, error)
	Publish(ctx context.Context, msg presence.RelayMessage) error
}

// LocalPusher is the local connection manager surface. Push reports whether
// any live session existed for the recipient.
type LocalPusher interface {
	Push(ctx context.Context, n *notification.Notification) bool
}

// Dispatcher bridges newly persisted notifications to live connections:
// local push when this instance holds one, relay publish for every other
// instance, and nothing at all when nobody is connected (the row stays
// undelivered and backlog replay picks it up on the next connect).
type Dispatcher struct {
	registry   Registry
	local      LocalPusher
	instanceID string
}

func New(registry Registry, local LocalPusher, instanceID string) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		local:      local,
		instanceID: instanceID,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification) {
	instances, err := d.registry.ListInstances(ctx, n.RecipientID)
	if err != nil {
		// Registry down: presence is best-effort, so degrade to local-only
		// delivery rather than failing the dispatch.
		registryDegraded.Inc()
		slog.Warn("presence registry unavailable, local-only delivery",
			"recipient_id", n.RecipientID, "error", err)
		if d.local.Push(ctx, n) {
			localPushes.Inc()
		}
		return
	}

	if slices.Contains(instances, d.instanceID) {
		if d.local.Push(ctx, n) {
			localPushes.Inc()
		}
	}

	if len(instances) == 0 {
		// Recipient offline everywhere; backlog replay covers it.
		return
	}

	msg := presence.RelayMessage{Origin: d.instanceID, Notification: n}
	if err := d.registry.Publish(ctx, msg); err != nil {
		slog.Warn("relay publish failed", "notification_id", n.ID, "error", err)
		return
	}
	relayPublished.Inc()
}

// Run consumes the relay channel until ctx is cancelled. Broadcasts from
// this instance are skipped (the local push already happened at dispatch);
// broadcasts for recipients with no local session are ignored. Duplicate
// pushes across instances are safe: delivered_at is set only if unset.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan presence.RelayMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Origin == d.instanceID || msg.Notification == nil {
				continue
			}
			relayReceived.Inc()
			if d.local.Push(ctx, msg.Notification) {
				localPushes.Inc()
			}
		}
	}
}
