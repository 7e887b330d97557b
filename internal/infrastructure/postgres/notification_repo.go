package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/notification-service/internal/domain/notification"
)

// NotificationRepository implements notification.Store on Postgres.
// Dedup is enforced by the unique (recipient_id, source_event_id) index,
// independent of any consumer-side dedup window.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	const sql = `
		INSERT INTO notifications (id, recipient_id, type, payload, source_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id, source_event_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, sql,
		n.ID, n.RecipientID, n.Type, n.Payload, n.SourceEventID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return notification.ErrAlreadyExists
	}

	return nil
}

// MarkDelivered sets delivered_at only if currently unset. Marking an
// already-delivered notification is a no-op, not an error, so concurrent
// pushes from two instances race safely (first writer wins).
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string) error {
	const sql = `
		UPDATE notifications
		SET delivered_at = NOW()
		WHERE id = $1 AND delivered_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	return nil
}

// MarkRead also backfills delivered_at: a read notification has necessarily
// reached the client.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	const sql = `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW()),
			delivered_at = COALESCE(delivered_at, NOW())
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}

	return nil
}

func (r *NotificationRepository) ListUndelivered(ctx context.Context, recipientID string) ([]*notification.Notification, error) {
	const sql = `
		SELECT id, recipient_id, type, payload, source_event_id, created_at, delivered_at, read_at
		FROM notifications
		WHERE recipient_id = $1 AND delivered_at IS NULL
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, sql, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query undelivered: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, opts notification.ListOptions) ([]*notification.Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	sql := `
		SELECT id, recipient_id, type, payload, source_event_id, created_at, delivered_at, read_at
		FROM notifications
		WHERE recipient_id = $1
	`
	if opts.UnreadOnly {
		sql += ` AND read_at IS NULL`
	}
	sql += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, sql, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (r *NotificationRepository) ExistsForSourceEvent(ctx context.Context, recipientID, sourceEventID string) (bool, error) {
	const sql = `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1 AND source_event_id = $2
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, sql, recipientID, sourceEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists for source event: %w", err)
	}

	return exists, nil
}

func scanNotifications(rows pgx.Rows) ([]*notification.Notification, error) {
	var list []*notification.Notification
	for rows.Next() {
		n := &notification.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Payload, &n.SourceEventID, &n.CreatedAt, &n.DeliveredAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, n)
	}

	return list, rows.Err()
}
