package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/auth"
	"github.com/kestrelpay/onboard-auth/internal/models"
	"github.com/kestrelpay/onboard-auth/internal/repositories"
	pkgauth "github.com/kestrelpay/onboard-auth/pkg/auth"
	"github.com/kestrelpay/onboard-auth/pkg/logger"
)

// replayWindow covers the full TOTP acceptance window (current step plus one
// step of skew on each side). A second TOTP verification inside this window
// is refused so an intercepted code cannot be replayed.
const replayWindow = time.Duration(2*auth.TOTPSkew+1) * auth.TOTPPeriod

// TOTPService manages authenticator enrollments, login-time code
// verification, and backup codes.
type TOTPService struct {
	repo            repositories.TOTPCredentialRepository
	identities      IdentityStore
	manager         *auth.TOTPManager
	audit           *logger.AuditLogger
	backupCodeCount int
}

// NewTOTPService creates a TOTPService.
func NewTOTPService(
	repo repositories.TOTPCredentialRepository,
	identities IdentityStore,
	manager *auth.TOTPManager,
	audit *logger.AuditLogger,
	backupCodeCount int,
) *TOTPService {
	return &TOTPService{
		repo:            repo,
		identities:      identities,
		manager:         manager,
		audit:           audit,
		backupCodeCount: backupCodeCount,
	}
}

// BeginEnrollment generates fresh enrollment material for an identity that
// does not yet have an authenticator. Nothing is persisted: the secret only
// becomes a credential when ConfirmEnrollment proves the authenticator has it.
func (s *TOTPService) BeginEnrollment(ctx context.Context, identityID string) (*models.TOTPEnrollment, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	if _, err := s.repo.GetByIdentityID(ctx, identityID); err == nil {
		return nil, models.ErrMFAAlreadyEnabled
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	enrollment, err := s.manager.GenerateEnrollment(identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment: %w", err)
	}

	return enrollment, nil
}

// ConfirmEnrollment verifies the first code from the authenticator and, only
// then, persists the credential together with a fresh set of backup codes in
// one transaction. The plain backup codes are returned exactly once.
func (s *TOTPService) ConfirmEnrollment(ctx context.Context, identityID, secret, code string) ([]string, error) {
	if _, err := s.repo.GetByIdentityID(ctx, identityID); err == nil {
		return nil, models.ErrMFAAlreadyEnabled
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	if !s.manager.Validate(secret, code, time.Now()) {
		s.audit.LogMFAEvent("totp_enrollment", identityID, string(models.MFAMethodTOTP), false, "confirmation code invalid")
		return nil, models.ErrMFACodeInvalid
	}

	encrypted, nonce, err := s.manager.EncryptSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	plainCodes, err := s.manager.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}
	backupCodes := s.hashCodes(identityID, plainCodes)

	now := time.Now()
	cred := &models.TOTPCredential{
		IdentityID:      identityID,
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		Enabled:         true,
		EnabledAt:       &now,
	}

	if err := s.repo.Create(ctx, cred, backupCodes); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	// First successful enrollment satisfies the setup requirement.
	if err := s.identities.SetMFASetupRequired(ctx, identityID, false); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to clear setup flag: %w", err)
	}

	s.audit.LogMFAEvent("totp_enrollment", identityID, string(models.MFAMethodTOTP), true, "")
	return plainCodes, nil
}

// Enabled reports whether the identity has an active authenticator.
func (s *TOTPService) Enabled(ctx context.Context, identityID string) (bool, error) {
	cred, err := s.repo.GetByIdentityID(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return cred.Enabled, nil
}

// RemainingBackupCodes returns how many single-use codes are still available.
func (s *TOTPService) RemainingBackupCodes(ctx context.Context, identityID string) (int, error) {
	return s.repo.CountUnusedBackupCodes(ctx, identityID)
}

// VerifyForLogin checks a second-factor code during login. A six-digit code
// is tried as TOTP first; anything that fails TOTP is then tried as a backup
// code, whose consumption is atomic so each code works exactly once.
func (s *TOTPService) VerifyForLogin(ctx context.Context, identityID, code string) (*models.MFAVerifyResult, error) {
	cred, err := s.repo.GetByIdentityID(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnabled
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if !cred.Enabled {
		return nil, models.ErrMFANotEnabled
	}

	now := time.Now()

	secret, err := s.manager.DecryptSecret(cred.SecretEncrypted, cred.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	replayed := cred.LastUsedAt != nil && now.Sub(*cred.LastUsedAt) < replayWindow
	if !replayed && s.manager.Validate(secret, code, now) {
		if err := s.repo.UpdateLastUsedAt(ctx, identityID, now); err != nil {
			return nil, fmt.Errorf("failed to record code use: %w", err)
		}
		s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodTOTP), true, "")
		return &models.MFAVerifyResult{IdentityID: identityID}, nil
	}

	// Fall through to backup codes. The conditional consume is the only
	// arbiter: of two racing uses of the same code, one sees false here.
	consumed, err := s.repo.ConsumeBackupCode(ctx, identityID, s.manager.HashBackupCode(code))
	if err != nil {
		return nil, fmt.Errorf("failed to consume backup code: %w", err)
	}
	if consumed {
		if err := s.repo.UpdateLastUsedAt(ctx, identityID, now); err != nil {
			return nil, fmt.Errorf("failed to record code use: %w", err)
		}
		s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodTOTP), true, "backup code used")
		return &models.MFAVerifyResult{IdentityID: identityID, UsedBackupCode: true}, nil
	}

	reason := "code invalid"
	if replayed {
		reason = "code replayed within acceptance window"
	}
	s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodTOTP), false, reason)
	return nil, models.ErrMFACodeInvalid
}

// RegenerateBackupCodes replaces the full set after password
// re-verification. Old codes stop working immediately.
func (s *TOTPService) RegenerateBackupCodes(ctx context.Context, identityID, password string) ([]string, error) {
	if err := s.reauthenticate(ctx, identityID, password); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByIdentityID(ctx, identityID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnabled
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	plainCodes, err := s.manager.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	if err := s.repo.ReplaceBackupCodes(ctx, identityID, s.hashCodes(identityID, plainCodes)); err != nil {
		return nil, fmt.Errorf("failed to replace backup codes: %w", err)
	}

	s.audit.LogMFAEvent("backup_codes_regenerated", identityID, string(models.MFAMethodTOTP), true, "")
	return plainCodes, nil
}

// Disable removes the authenticator and all backup codes after password
// re-verification.
func (s *TOTPService) Disable(ctx context.Context, identityID, password string) error {
	if err := s.reauthenticate(ctx, identityID, password); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, identityID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		return fmt.Errorf("failed to remove credential: %w", err)
	}

	s.audit.LogMFAEvent("totp_disabled", identityID, string(models.MFAMethodTOTP), true, "")
	return nil
}

func (s *TOTPService) reauthenticate(ctx context.Context, identityID, password string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	if !pkgauth.VerifyPassword(password, identity.PasswordHash, identity.PasswordSalt) {
		s.audit.LogMFAEvent("reauthentication", identityID, "", false, "password mismatch")
		return models.ErrReauthenticationRequired
	}
	return nil
}

func (s *TOTPService) hashCodes(identityID string, plainCodes []string) []models.BackupCode {
	codes := make([]models.BackupCode, len(plainCodes))
	now := time.Now()
	for i, plain := range plainCodes {
		codes[i] = models.BackupCode{
			IdentityID: identityID,
			CodeHash:   s.manager.HashBackupCode(plain),
			CreatedAt:  now,
		}
	}
	return codes
}
