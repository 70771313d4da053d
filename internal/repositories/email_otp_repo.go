package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelpay/onboard-auth/internal/database"
	"github.com/kestrelpay/onboard-auth/internal/models"
)

// EmailOTPRepository defines persistence for email one-time-code state. Each
// identity has at most one row carrying both the enablement flag and the
// pending code, so issuing a new code implicitly invalidates the old one.
type EmailOTPRepository interface {
	Get(ctx context.Context, identityID string) (*models.EmailOTPState, error)
	Upsert(ctx context.Context, state *models.EmailOTPState) error
	// IncrementVerifyAttempts bumps the counter for the pending code and
	// returns the new value, so the attempt cap is enforced off a single
	// atomic statement.
	IncrementVerifyAttempts(ctx context.Context, identityID string) (int, error)
	ClearPendingCode(ctx context.Context, identityID string) error
	Delete(ctx context.Context, identityID string) error
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

type emailOTPRepoImpl struct {
	db *database.DB
}

// NewEmailOTPRepository creates the Postgres EmailOTPRepository.
func NewEmailOTPRepository(db *database.DB) EmailOTPRepository {
	return &emailOTPRepoImpl{db: db}
}

func (r *emailOTPRepoImpl) Get(ctx context.Context, identityID string) (*models.EmailOTPState, error) {
	query := `
		SELECT identity_id, enabled, enabled_at, code_hash, code_expires_at,
		       verify_attempts, send_count, window_resets_at, last_sent_at
		FROM email_otp_states
		WHERE identity_id = $1
	`

	state := &models.EmailOTPState{}
	err := r.db.Pool.QueryRow(ctx, query, identityID).Scan(
		&state.IdentityID, &state.Enabled, &state.EnabledAt,
		&state.CodeHash, &state.CodeExpiresAt,
		&state.VerifyAttempts, &state.SendCount, &state.WindowResetsAt, &state.LastSentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	return state, nil
}

// Upsert writes the full row. Callers read-modify-write through the service
// layer, which serializes per identity, so a plain upsert is sufficient here.
func (r *emailOTPRepoImpl) Upsert(ctx context.Context, state *models.EmailOTPState) error {
	query := `
		INSERT INTO email_otp_states (
			identity_id, enabled, enabled_at, code_hash, code_expires_at,
			verify_attempts, send_count, window_resets_at, last_sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			enabled_at = EXCLUDED.enabled_at,
			code_hash = EXCLUDED.code_hash,
			code_expires_at = EXCLUDED.code_expires_at,
			verify_attempts = EXCLUDED.verify_attempts,
			send_count = EXCLUDED.send_count,
			window_resets_at = EXCLUDED.window_resets_at,
			last_sent_at = EXCLUDED.last_sent_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		state.IdentityID, state.Enabled, state.EnabledAt,
		state.CodeHash, state.CodeExpiresAt,
		state.VerifyAttempts, state.SendCount, state.WindowResetsAt, state.LastSentAt,
	)
	return database.MapPostgresError(err)
}

func (r *emailOTPRepoImpl) IncrementVerifyAttempts(ctx context.Context, identityID string) (int, error) {
	query := `
		UPDATE email_otp_states SET verify_attempts = verify_attempts + 1
		WHERE identity_id = $1
		RETURNING verify_attempts
	`

	var attempts int
	err := r.db.Pool.QueryRow(ctx, query, identityID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, database.MapPostgresError(err)
	}

	return attempts, nil
}

// ClearPendingCode discards the pending code while leaving the enablement and
// send-window fields untouched.
func (r *emailOTPRepoImpl) ClearPendingCode(ctx context.Context, identityID string) error {
	query := `
		UPDATE email_otp_states SET code_hash = NULL, code_expires_at = NULL, verify_attempts = 0
		WHERE identity_id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, identityID)
	return database.MapPostgresError(err)
}

func (r *emailOTPRepoImpl) Delete(ctx context.Context, identityID string) error {
	query := `DELETE FROM email_otp_states WHERE identity_id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, identityID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearExpiredCodes nulls out codes past their expiry across all identities.
// Rows whose method is disabled and whose send window has lapsed are removed
// outright so abandoned setups do not accumulate.
func (r *emailOTPRepoImpl) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	clearQuery := `
		UPDATE email_otp_states SET code_hash = NULL, code_expires_at = NULL, verify_attempts = 0
		WHERE code_expires_at IS NOT NULL AND code_expires_at < $1
	`

	tag, err := r.db.Pool.Exec(ctx, clearQuery, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	cleared := tag.RowsAffected()

	purgeQuery := `
		DELETE FROM email_otp_states
		WHERE enabled = FALSE AND code_hash IS NULL
		  AND (window_resets_at IS NULL OR window_resets_at < $1)
	`

	if _, err := r.db.Pool.Exec(ctx, purgeQuery, now); err != nil {
		return cleared, database.MapPostgresError(err)
	}

	return cleared, nil
}
