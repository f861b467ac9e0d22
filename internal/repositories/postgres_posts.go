package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/models"
)

// PostgresPostRepository provides PostgreSQL-backed persistence for posts.
type PostgresPostRepository struct {
	pool db.Pool
}

// NewPostgresPostRepository constructs a post repository backed by PostgreSQL.
func NewPostgresPostRepository(pool db.Pool) *PostgresPostRepository {
	return &PostgresPostRepository{pool: pool}
}

// Create stores a new post.
func (r *PostgresPostRepository) Create(ctx context.Context, post models.Post) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO posts (id, author_id, content, created_at)
        VALUES ($1, $2, $3, $4)
    `, post.ID, post.AuthorID, post.Content, post.CreatedAt)
	if err != nil {
		return mapWriteError("insert post", err)
	}
	return nil
}

// Get fetches a post by identifier.
func (r *PostgresPostRepository) Get(ctx context.Context, id string) (models.Post, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Post{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var post models.Post
	err = conn.QueryRow(ctx, `
        SELECT id, author_id, content, created_at
        FROM posts
        WHERE id = $1
    `, id).Scan(&post.ID, &post.AuthorID, &post.Content, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Post{}, ErrNotFound
		}
		return models.Post{}, fmt.Errorf("select post: %w", err)
	}
	post.CreatedAt = post.CreatedAt.UTC()
	return post, nil
}

// PostgresLikeRepository provides PostgreSQL-backed persistence for likes.
type PostgresLikeRepository struct {
	pool db.Pool
}

// NewPostgresLikeRepository constructs a like repository backed by PostgreSQL.
func NewPostgresLikeRepository(pool db.Pool) *PostgresLikeRepository {
	return &PostgresLikeRepository{pool: pool}
}

// Toggle removes the account's like on the post, or adds one when absent. It
// reports whether the post is liked afterwards.
func (r *PostgresLikeRepository) Toggle(ctx context.Context, postID, accountID string, at time.Time) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var liked bool
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		liked = false

		tag, err := tx.Exec(ctx, `DELETE FROM likes WHERE post_id = $1 AND account_id = $2`, postID, accountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO likes (post_id, account_id, created_at)
            VALUES ($1, $2, $3)
        `, postID, accountID, at); err != nil {
			return err
		}
		liked = true
		return nil
	})
	if err != nil {
		return false, mapWriteError("toggle like", err)
	}
	return liked, nil
}

// PostgresCommentRepository provides PostgreSQL-backed persistence for comments.
type PostgresCommentRepository struct {
	pool db.Pool
}

// NewPostgresCommentRepository constructs a comment repository backed by PostgreSQL.
func NewPostgresCommentRepository(pool db.Pool) *PostgresCommentRepository {
	return &PostgresCommentRepository{pool: pool}
}

// Create stores a comment.
func (r *PostgresCommentRepository) Create(ctx context.Context, c models.Comment) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO comments (id, post_id, author_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, c.ID, c.PostID, c.AuthorID, c.Content, c.CreatedAt)
	if err != nil {
		return mapWriteError("insert comment", err)
	}
	return nil
}

// ListForPost returns a post's comments in creation order.
func (r *PostgresCommentRepository) ListForPost(ctx context.Context, postID string) ([]models.Comment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, post_id, author_id, content, created_at
        FROM comments
        WHERE post_id = $1
        ORDER BY created_at ASC, seq ASC
    `, postID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}
