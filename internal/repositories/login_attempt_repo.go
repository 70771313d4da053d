package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelpay/onboard-auth/internal/database"
	"github.com/kestrelpay/onboard-auth/internal/models"
)

// LoginAttemptStore persists failure counters keyed by (lower-cased email,
// origin). The Postgres implementation below is the default; a Redis-backed
// implementation exists for multi-instance deployments.
type LoginAttemptStore interface {
	Get(ctx context.Context, email, origin string) (*models.LoginAttemptRecord, error)
	Increment(ctx context.Context, email, origin string, identityID *string, at time.Time) (*models.LoginAttemptRecord, error)
	SetLockout(ctx context.Context, email, origin string, until time.Time) error
	Delete(ctx context.Context, email, origin string) error
	DeleteExpired(ctx context.Context, lastAttemptBefore time.Time) (int64, error)
}

// LoginAttemptRepository is the Postgres LoginAttemptStore.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func (r *LoginAttemptRepository) Get(ctx context.Context, email, origin string) (*models.LoginAttemptRecord, error) {
	query := `
		SELECT email, origin, attempt_count, last_attempt_at, locked_until, identity_id
		FROM login_attempts
		WHERE email = $1 AND origin = $2
	`

	record := &models.LoginAttemptRecord{}
	err := r.db.Pool.QueryRow(ctx, query, strings.ToLower(email), origin).Scan(
		&record.Email, &record.Origin, &record.AttemptCount,
		&record.LastAttemptAt, &record.LockedUntil, &record.IdentityID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	return record, nil
}

// Increment bumps the failure counter, creating the record on first failure.
// A single upsert statement keeps the common path to one round trip; under
// concurrent identical-key requests the count may lag by one, which the
// lockout semantics tolerate.
func (r *LoginAttemptRepository) Increment(ctx context.Context, email, origin string, identityID *string, at time.Time) (*models.LoginAttemptRecord, error) {
	query := `
		INSERT INTO login_attempts (email, origin, attempt_count, last_attempt_at, identity_id)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (email, origin) DO UPDATE SET
			attempt_count = login_attempts.attempt_count + 1,
			last_attempt_at = EXCLUDED.last_attempt_at,
			identity_id = COALESCE(EXCLUDED.identity_id, login_attempts.identity_id)
		RETURNING email, origin, attempt_count, last_attempt_at, locked_until, identity_id
	`

	record := &models.LoginAttemptRecord{}
	err := r.db.Pool.QueryRow(ctx, query, strings.ToLower(email), origin, at, identityID).Scan(
		&record.Email, &record.Origin, &record.AttemptCount,
		&record.LastAttemptAt, &record.LockedUntil, &record.IdentityID,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return record, nil
}

func (r *LoginAttemptRepository) SetLockout(ctx context.Context, email, origin string, until time.Time) error {
	query := `
		UPDATE login_attempts SET locked_until = $1
		WHERE email = $2 AND origin = $3
	`

	_, err := r.db.Pool.Exec(ctx, query, until, strings.ToLower(email), origin)
	return database.MapPostgresError(err)
}

// Delete clears the record entirely; called on successful authentication.
func (r *LoginAttemptRepository) Delete(ctx context.Context, email, origin string) error {
	query := `DELETE FROM login_attempts WHERE email = $1 AND origin = $2`

	_, err := r.db.Pool.Exec(ctx, query, strings.ToLower(email), origin)
	return database.MapPostgresError(err)
}

// DeleteExpired removes stale records whose lockout (if any) has elapsed.
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context, lastAttemptBefore time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempts
		WHERE last_attempt_at < $1
		  AND (locked_until IS NULL OR locked_until < CURRENT_TIMESTAMP)
	`

	tag, err := r.db.Pool.Exec(ctx, query, lastAttemptBefore)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
