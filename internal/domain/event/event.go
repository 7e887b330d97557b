package event

import (
	"encoding/json"
	"time"
)

// DomainEvent is the envelope published by upstream services to the
// notification-events topic. Payload is kept as raw JSON produced by the
// originating service.
type DomainEvent struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	SourceService string          `json:"source_service"`
	RecipientID   string          `json:"recipient_id"`
	ActorID       string          `json:"actor_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Event types published by the upstream services.
const (
	TypeUserFollowed  = "user.followed"
	TypePostLiked     = "post.liked"
	TypePostCommented = "post.commented"
	TypeUserMentioned = "user.mentioned"
	TypePostShared    = "post.shared"
	TypeMessageSent   = "message.sent"
	TypeUserBlocked   = "user.blocked"
	TypeSystem        = "system"
)
