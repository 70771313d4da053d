package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kestrelpay/onboard-auth/internal/database"
	"github.com/kestrelpay/onboard-auth/internal/models"
)

// TOTPCredentialRepository defines persistence for authenticator enrollments
// and their backup codes.
type TOTPCredentialRepository interface {
	Create(ctx context.Context, cred *models.TOTPCredential, backupCodes []models.BackupCode) error
	GetByIdentityID(ctx context.Context, identityID string) (*models.TOTPCredential, error)
	UpdateLastUsedAt(ctx context.Context, identityID string, at time.Time) error
	// ConsumeBackupCode atomically marks a matching unused code as used.
	// Returns true only when this call performed the consumption; a second
	// concurrent use of the same code sees false.
	ConsumeBackupCode(ctx context.Context, identityID, codeHash string) (bool, error)
	CountUnusedBackupCodes(ctx context.Context, identityID string) (int, error)
	ReplaceBackupCodes(ctx context.Context, identityID string, codes []models.BackupCode) error
	Delete(ctx context.Context, identityID string) error
}

type totpRepoImpl struct {
	db *database.DB
}

// NewTOTPCredentialRepository creates the Postgres TOTPCredentialRepository.
func NewTOTPCredentialRepository(db *database.DB) TOTPCredentialRepository {
	return &totpRepoImpl{db: db}
}

// Create persists the credential and its backup codes in one transaction so
// enrollment is all-or-nothing.
func (r *totpRepoImpl) Create(ctx context.Context, cred *models.TOTPCredential, backupCodes []models.BackupCode) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO totp_credentials (identity_id, secret_encrypted, secret_nonce, enabled, enabled_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.Exec(ctx, query,
			cred.IdentityID, cred.SecretEncrypted, cred.SecretNonce, cred.Enabled, cred.EnabledAt,
		); err != nil {
			return database.MapPostgresError(err)
		}

		return insertBackupCodes(ctx, tx, cred.IdentityID, backupCodes)
	})
}

func (r *totpRepoImpl) GetByIdentityID(ctx context.Context, identityID string) (*models.TOTPCredential, error) {
	query := `
		SELECT identity_id, secret_encrypted, secret_nonce, enabled, enabled_at, last_used_at
		FROM totp_credentials
		WHERE identity_id = $1
	`

	cred := &models.TOTPCredential{}
	err := r.db.Pool.QueryRow(ctx, query, identityID).Scan(
		&cred.IdentityID, &cred.SecretEncrypted, &cred.SecretNonce,
		&cred.Enabled, &cred.EnabledAt, &cred.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, database.MapPostgresError(err)
	}

	return cred, nil
}

func (r *totpRepoImpl) UpdateLastUsedAt(ctx context.Context, identityID string, at time.Time) error {
	query := `UPDATE totp_credentials SET last_used_at = $1 WHERE identity_id = $2`

	_, err := r.db.Pool.Exec(ctx, query, at, identityID)
	return database.MapPostgresError(err)
}

// ConsumeBackupCode is the concurrency-safety lynchpin for recovery codes:
// the used_at IS NULL guard makes the update conditional, so of two
// simultaneous uses exactly one sees rows-affected == 1.
func (r *totpRepoImpl) ConsumeBackupCode(ctx context.Context, identityID, codeHash string) (bool, error) {
	query := `
		UPDATE totp_backup_codes SET used_at = CURRENT_TIMESTAMP
		WHERE identity_id = $1 AND code_hash = $2 AND used_at IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, identityID, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *totpRepoImpl) CountUnusedBackupCodes(ctx context.Context, identityID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM totp_backup_codes
		WHERE identity_id = $1 AND used_at IS NULL
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, identityID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ReplaceBackupCodes discards the old set and installs a fresh one atomically.
func (r *totpRepoImpl) ReplaceBackupCodes(ctx context.Context, identityID string, codes []models.BackupCode) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM totp_backup_codes WHERE identity_id = $1`, identityID); err != nil {
			return database.MapPostgresError(err)
		}
		return insertBackupCodes(ctx, tx, identityID, codes)
	})
}

// Delete removes the credential and all backup codes; used by disable.
func (r *totpRepoImpl) Delete(ctx context.Context, identityID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM totp_backup_codes WHERE identity_id = $1`, identityID); err != nil {
			return database.MapPostgresError(err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM totp_credentials WHERE identity_id = $1`, identityID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func insertBackupCodes(ctx context.Context, tx pgx.Tx, identityID string, codes []models.BackupCode) error {
	for i := range codes {
		if codes[i].ID == "" {
			codes[i].ID = uuid.New().String()
		}
		if codes[i].CreatedAt.IsZero() {
			codes[i].CreatedAt = time.Now()
		}

		query := `
			INSERT INTO totp_backup_codes (id, identity_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, query, codes[i].ID, identityID, codes[i].CodeHash, codes[i].CreatedAt); err != nil {
			return fmt.Errorf("failed to insert backup code: %w", database.MapPostgresError(err))
		}
	}
	return nil
}
