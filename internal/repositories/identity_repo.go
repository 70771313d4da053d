package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelpay/onboard-auth/internal/database"
	"github.com/kestrelpay/onboard-auth/internal/models"
)

type IdentityRepository struct {
	db *database.DB
}

func NewIdentityRepository(db *database.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// rowScanner abstracts pgx.Row for scanning identity rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentityRow(scanner rowScanner) (*models.Identity, error) {
	var identity models.Identity

	err := scanner.Scan(
		&identity.ID, &identity.Email, &identity.PasswordHash, &identity.PasswordSalt,
		&identity.Name, &identity.MFASetupRequired,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &identity, nil
}

const identityColumns = `id, email, password_hash, password_salt, name, mfa_setup_required, created_at, updated_at`

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	identity.ID = uuid.New().String()
	identity.Email = strings.ToLower(identity.Email)

	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	query := `
		INSERT INTO identities (id, email, password_hash, password_salt, name, mfa_setup_required, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + identityColumns

	return scanIdentityRow(r.db.Pool.QueryRow(ctx, query,
		identity.ID, identity.Email, identity.PasswordHash, identity.PasswordSalt,
		identity.Name, identity.MFASetupRequired,
		identity.CreatedAt, identity.UpdatedAt,
	))
}

// SetMFASetupRequired flips the first-time-setup flag; it is cleared when the
// identity completes its first MFA enrollment.
func (r *IdentityRepository) SetMFASetupRequired(ctx context.Context, id string, required bool) error {
	query := `UPDATE identities SET mfa_setup_required = $1, updated_at = $2 WHERE id = $3`

	tag, err := r.db.Pool.Exec(ctx, query, required, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
