package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulsegram/backend/internal/auth"
	"github.com/pulsegram/backend/internal/db"
)

// PostgresSessionStore keeps refresh sessions in the sessions table.
type PostgresSessionStore struct {
	pool db.Pool
}

func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save upserts the session keyed by its refresh token.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	_, err := s.exec(ctx, `
        INSERT INTO sessions (refresh_token, account_id, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (refresh_token)
        DO UPDATE SET account_id = EXCLUDED.account_id, expires_at = EXCLUDED.expires_at
    `, session.RefreshToken, session.AccountID, session.ExpiresAt.UTC())
	if err != nil {
		return mapWriteError("save session", err)
	}
	return nil
}

// Take deletes the session and returns what was stored, so a refresh token
// can be redeemed once even under concurrent refreshes.
func (s *PostgresSessionStore) Take(ctx context.Context, refreshToken string) (auth.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return auth.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        DELETE FROM sessions
        WHERE refresh_token = $1
        RETURNING refresh_token, account_id, expires_at
    `, refreshToken)
	if err != nil {
		return auth.Session{}, fmt.Errorf("take session: %w", err)
	}

	session, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[auth.Session])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return auth.Session{}, auth.ErrSessionNotFound
	case err != nil:
		return auth.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.ExpiresAt = session.ExpiresAt.UTC()
	return session, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, refreshToken string) error {
	tag, err := s.exec(ctx, `DELETE FROM sessions WHERE refresh_token = $1`, refreshToken)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// PurgeExpired deletes sessions that expired before now.
func (s *PostgresSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresSessionStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return conn.Exec(ctx, sql, args...)
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)
