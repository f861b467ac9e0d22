package repositories

import (
	"context"
	"fmt"

	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/models"
)

// PostgresMessageRepository provides PostgreSQL-backed persistence for direct messages.
type PostgresMessageRepository struct {
	pool db.Pool
}

// NewPostgresMessageRepository constructs a message repository backed by PostgreSQL.
func NewPostgresMessageRepository(pool db.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

// Create inserts msg and returns it with the database sequence populated.
func (r *PostgresMessageRepository) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Message{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = conn.QueryRow(ctx, `
        INSERT INTO messages (id, sender_id, recipient_id, content, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq
    `, msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.Read, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		return models.Message{}, mapWriteError("insert message", err)
	}
	return msg, nil
}

// ListConversation returns the latest limit messages exchanged between a and
// b, oldest first.
func (r *PostgresMessageRepository) ListConversation(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, seq, sender_id, recipient_id, content, is_read, created_at
        FROM (
            SELECT id, seq, sender_id, recipient_id, content, is_read, created_at
            FROM messages
            WHERE (sender_id = $1 AND recipient_id = $2)
               OR (sender_id = $2 AND recipient_id = $1)
            ORDER BY created_at DESC, seq DESC
            LIMIT $3
        ) AS recent
        ORDER BY created_at ASC, seq ASC
    `, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}

	return out, nil
}

// MarkConversationRead flags messages sent by peerID to readerID as read.
func (r *PostgresMessageRepository) MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE messages
        SET is_read = TRUE
        WHERE sender_id = $1 AND recipient_id = $2 AND is_read = FALSE
    `, peerID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return tag.RowsAffected(), nil
}
