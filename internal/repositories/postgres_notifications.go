package repositories

import (
	"context"
	"fmt"

	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/models"
)

// PostgresNotificationRepository provides PostgreSQL-backed persistence for notifications.
type PostgresNotificationRepository struct {
	pool db.Pool
}

// NewPostgresNotificationRepository constructs a notification repository backed by PostgreSQL.
func NewPostgresNotificationRepository(pool db.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

// Create inserts a notification. A recipient or actor that does not exist
// yields ErrNotFound.
func (r *PostgresNotificationRepository) Create(ctx context.Context, n models.Notification) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO notifications (id, recipient_id, actor_id, kind, content_ref, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, n.ID, n.RecipientID, n.ActorID, string(n.Kind), n.ContentRef, n.Read, n.CreatedAt)
	if err != nil {
		return mapWriteError("insert notification", err)
	}
	return nil
}

// ListForRecipient returns up to limit notifications, newest first.
func (r *PostgresNotificationRepository) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, recipient_id, actor_id, kind, content_ref, is_read, created_at
        FROM notifications
        WHERE recipient_id = $1
        ORDER BY created_at DESC, seq DESC
        LIMIT $2
    `, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n    models.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &kind, &n.ContentRef, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = models.NotificationKind(kind)
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return out, nil
}

// CountUnread returns the number of unread notifications for the recipient.
func (r *PostgresNotificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int64
	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE
    `, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAllRead flags every unread notification for the recipient as read.
func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE notifications
        SET is_read = TRUE
        WHERE recipient_id = $1 AND is_read = FALSE
    `, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
