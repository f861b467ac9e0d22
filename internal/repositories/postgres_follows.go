package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/models"
)

// PostgresFollowRepository provides PostgreSQL-backed persistence for follow edges.
type PostgresFollowRepository struct {
	pool db.Pool
}

// NewPostgresFollowRepository constructs a follow repository backed by PostgreSQL.
func NewPostgresFollowRepository(pool db.Pool) *PostgresFollowRepository {
	return &PostgresFollowRepository{pool: pool}
}

// Toggle removes the edge for the pair if present, otherwise inserts edge.
// Both steps run in one serializable transaction that is retried on
// serialization failures. It reports whether the edge was inserted.
func (r *PostgresFollowRepository) Toggle(ctx context.Context, edge models.FollowEdge) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var created bool
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		created = false

		tag, err := tx.Exec(ctx, `
            DELETE FROM follows
            WHERE follower_id = $1 AND followee_id = $2
        `, edge.FollowerID, edge.FolloweeID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO follows (follower_id, followee_id, status, created_at, responded_at)
            VALUES ($1, $2, $3, $4, NULL)
        `, edge.FollowerID, edge.FolloweeID, string(edge.Status), edge.CreatedAt); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, mapWriteError("toggle follow", err)
	}

	return created, nil
}

// Delete removes the edge for the pair regardless of status.
func (r *PostgresFollowRepository) Delete(ctx context.Context, followerID, followeeID string) (bool, error) {
	return r.deleteWhere(ctx, `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
}

// DeletePending removes the edge only while it is pending.
func (r *PostgresFollowRepository) DeletePending(ctx context.Context, followerID, followeeID string) (bool, error) {
	return r.deleteWhere(ctx, `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2 AND status = 'pending'`, followerID, followeeID)
}

func (r *PostgresFollowRepository) deleteWhere(ctx context.Context, query, followerID, followeeID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, followerID, followeeID)
	if err != nil {
		return false, fmt.Errorf("delete follow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get fetches the edge for the pair.
func (r *PostgresFollowRepository) Get(ctx context.Context, followerID, followeeID string) (models.FollowEdge, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FollowEdge{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT follower_id, followee_id, status, created_at, responded_at
        FROM follows
        WHERE follower_id = $1 AND followee_id = $2
    `, followerID, followeeID)

	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FollowEdge{}, ErrNotFound
		}
		return models.FollowEdge{}, fmt.Errorf("select follow: %w", err)
	}
	return edge, nil
}

// Accept moves a pending edge to accepted and reports whether it changed.
func (r *PostgresFollowRepository) Accept(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE follows
        SET status = 'accepted', responded_at = $3
        WHERE follower_id = $1 AND followee_id = $2 AND status = 'pending'
    `, followerID, followeeID, at)
	if err != nil {
		return false, fmt.Errorf("accept follow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListFollowers returns accepted edges pointing at accountID.
func (r *PostgresFollowRepository) ListFollowers(ctx context.Context, accountID string) ([]models.FollowEdge, error) {
	return r.list(ctx, `WHERE followee_id = $1 AND status = 'accepted'`, accountID)
}

// ListFollowing returns accepted edges leaving accountID.
func (r *PostgresFollowRepository) ListFollowing(ctx context.Context, accountID string) ([]models.FollowEdge, error) {
	return r.list(ctx, `WHERE follower_id = $1 AND status = 'accepted'`, accountID)
}

// ListPending returns pending edges awaiting followeeID.
func (r *PostgresFollowRepository) ListPending(ctx context.Context, followeeID string) ([]models.FollowEdge, error) {
	return r.list(ctx, `WHERE followee_id = $1 AND status = 'pending'`, followeeID)
}

func (r *PostgresFollowRepository) list(ctx context.Context, where, accountID string) ([]models.FollowEdge, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT follower_id, followee_id, status, created_at, responded_at
        FROM follows
        `+where+`
        ORDER BY created_at DESC
    `, accountID)
	if err != nil {
		return nil, fmt.Errorf("query follows: %w", err)
	}
	defer rows.Close()

	var edges []models.FollowEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follows: %w", err)
	}

	return edges, nil
}

func scanEdge(row pgx.Row) (models.FollowEdge, error) {
	var (
		edge        models.FollowEdge
		status      string
		respondedAt sql.NullTime
	)
	if err := row.Scan(&edge.FollowerID, &edge.FolloweeID, &status, &edge.CreatedAt, &respondedAt); err != nil {
		return models.FollowEdge{}, err
	}
	edge.Status = models.FollowStatus(status)
	edge.CreatedAt = edge.CreatedAt.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		edge.RespondedAt = &t
	}
	return edge, nil
}
