package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/models"
)

// mapWriteError translates constraint violations into the package sentinels.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresAccountRepository provides PostgreSQL-backed persistence for accounts.
type PostgresAccountRepository struct {
	pool db.Pool
}

// NewPostgresAccountRepository constructs an account repository backed by PostgreSQL.
func NewPostgresAccountRepository(pool db.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

const accountColumns = `id, handle, email, display_name, avatar_url, is_private, is_verified, is_suspended, is_admin, password_hash, created_at, updated_at`

// Create persists a new account record.
func (r *PostgresAccountRepository) Create(ctx context.Context, account models.Account) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO accounts (`+accountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, account.ID, account.Handle, account.Email, account.DisplayName, account.AvatarURL,
		account.Private, account.Verified, account.Suspended, account.Admin,
		account.PasswordHash, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return mapWriteError("insert account", err)
	}

	return nil
}

// FindByID fetches an account by identifier.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (models.Account, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail fetches an account by email address.
func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	return r.findOne(ctx, "email", email)
}

// FindByHandle fetches an account by its case-folded handle.
func (r *PostgresAccountRepository) FindByHandle(ctx context.Context, handle string) (models.Account, error) {
	return r.findOne(ctx, "handle", handle)
}

func (r *PostgresAccountRepository) findOne(ctx context.Context, column, value string) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is always one of the constants passed by the Find* methods.
	row := conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`, value)

	var a models.Account
	if err := row.Scan(&a.ID, &a.Handle, &a.Email, &a.DisplayName, &a.AvatarURL,
		&a.Private, &a.Verified, &a.Suspended, &a.Admin,
		&a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("select account by %s: %w", column, err)
	}

	return a, nil
}

// SetPrivate updates the account's privacy flag.
func (r *PostgresAccountRepository) SetPrivate(ctx context.Context, id string, private bool, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE accounts
        SET is_private = $2, updated_at = $3
        WHERE id = $1
    `, id, private, at)
	if err != nil {
		return fmt.Errorf("update account privacy: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
