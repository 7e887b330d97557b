package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/notification-service/internal/domain/notification"
)

// RelayMessage is the envelope published on the shared relay channel so
// every instance can push to its own local connections. Origin lets an
// instance skip its own broadcasts; it already pushed locally at dispatch.
type RelayMessage struct {
	Origin       string                     `json:"origin"`
	Notification *notification.Notification `json:"notification"`
}

// Registry is the cross-instance presence directory backed by Redis. One
// key per (recipient, instance) pair with a TTL, plus a per-recipient index
// set pruned on read. Entries self-expire when an instance dies, so crash
// recovery needs no explicit detection.
type Registry struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
}

func NewRegistry(client *redis.Client, ttl time.Duration, relayChannel string) *Registry {
	return &Registry{
		client:  client,
		ttl:     ttl,
		channel: relayChannel,
	}
}

func pairKey(recipientID, instanceID string) string {
	return fmt.Sprintf("presence:%s:%s", recipientID, instanceID)
}

func indexKey(recipientID string) string {
	return fmt.Sprintf("presence:idx:%s", recipientID)
}

func (r *Registry) Register(ctx context.Context, recipientID, instanceID string) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, pairKey(recipientID, instanceID), "1", r.ttl)
	pipe.SAdd(ctx, indexKey(recipientID), instanceID)
	pipe.Expire(ctx, indexKey(recipientID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence register: %w", err)
	}
	return nil
}

// Heartbeat refreshes the pair TTL; same shape as Register so a lost index
// entry heals on the next beat.
func (r *Registry) Heartbeat(ctx context.Context, recipientID, instanceID string) error {
	if err := r.Register(ctx, recipientID, instanceID); err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	return nil
}

func (r *Registry) Unregister(ctx context.Context, recipientID, instanceID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, pairKey(recipientID, instanceID))
	pipe.SRem(ctx, indexKey(recipientID), instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence unregister: %w", err)
	}
	return nil
}

// ListInstances returns the instances currently holding a live connection
// for the recipient. Index members whose pair key has expired are pruned.
func (r *Registry) ListInstances(ctx context.Context, recipientID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, indexKey(recipientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	var live []string
	for _, instanceID := range members {
		exists, err := r.client.Exists(ctx, pairKey(recipientID, instanceID)).Result()
		if err != nil {
			return nil, fmt.Errorf("presence check: %w", err)
		}
		if exists == 0 {
			// Stale entry from a crashed instance; TTL already reaped the pair key.
			if err := r.client.SRem(ctx, indexKey(recipientID), instanceID).Err(); err != nil {
				slog.Warn("failed to prune stale presence entry", "recipient_id", recipientID, "instance_id", instanceID, "error", err)
			}
			continue
		}
		live = append(live, instanceID)
	}

	return live, nil
}

func (r *Registry) Publish(ctx context.Context, msg RelayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish relay message: %w", err)
	}

	return nil
}

// Subscribe starts consuming the relay channel. The returned channel closes
// when ctx is cancelled. Malformed payloads are logged and skipped.
func (r *Registry) Subscribe(ctx context.Context) <-chan RelayMessage {
	sub := r.client.Subscribe(ctx, r.channel)
	out := make(chan RelayMessage, 64)

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var relay RelayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &relay); err != nil {
					slog.Warn("failed to unmarshal relay message", "error", err)
					continue
				}
				select {
				case out <- relay:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
