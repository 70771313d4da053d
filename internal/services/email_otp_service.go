package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/auth"
	"github.com/kestrelpay/onboard-auth/internal/models"
	"github.com/kestrelpay/onboard-auth/internal/repositories"
	pkgauth "github.com/kestrelpay/onboard-auth/pkg/auth"
	"github.com/kestrelpay/onboard-auth/pkg/logger"
)

const emailOTPDigits = 6

// CodeSender delivers one-time codes out of band. Implementations must be
// safe for concurrent use; dispatch happens on a background goroutine.
type CodeSender interface {
	SendOTPCode(ctx context.Context, email, code string) error
}

// EmailOTPConfig bundles the tunable limits of the email OTP flow.
type EmailOTPConfig struct {
	Expiry      time.Duration // pending code lifetime
	MaxAttempts int           // wrong guesses before the code is voided
	SendLimit   int           // sends per rolling window
	SendWindow  time.Duration
	SendTimeout time.Duration // budget for a single delivery attempt
}

// EmailOTPService manages the email second factor: enabling it, dispatching
// codes, and verifying them with expiry and attempt caps.
type EmailOTPService struct {
	repo       repositories.EmailOTPRepository
	identities IdentityStore
	sender     CodeSender
	audit      *logger.AuditLogger
	logger     *slog.Logger
	cfg        EmailOTPConfig
}

// NewEmailOTPService creates an EmailOTPService.
func NewEmailOTPService(
	repo repositories.EmailOTPRepository,
	identities IdentityStore,
	sender CodeSender,
	audit *logger.AuditLogger,
	log *slog.Logger,
	cfg EmailOTPConfig,
) *EmailOTPService {
	return &EmailOTPService{
		repo:       repo,
		identities: identities,
		sender:     sender,
		audit:      audit,
		logger:     log,
		cfg:        cfg,
	}
}

// SendSetupCode issues a code for enabling the email factor. The state row is
// created on first send with enabled=false; ConfirmSetup flips it.
func (s *EmailOTPService) SendSetupCode(ctx context.Context, identityID string) (*models.SendResult, error) {
	state, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to load OTP state: %w", err)
		}
		state = &models.EmailOTPState{IdentityID: identityID}
	}
	if state.Enabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	return s.issueCode(ctx, identityID, state)
}

// SendLoginCode issues a code for an identity whose email factor is enabled.
func (s *EmailOTPService) SendLoginCode(ctx context.Context, identityID string) (*models.SendResult, error) {
	state, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnabled
		}
		return nil, fmt.Errorf("failed to load OTP state: %w", err)
	}
	if !state.Enabled {
		return nil, models.ErrMFANotEnabled
	}

	return s.issueCode(ctx, identityID, state)
}

// issueCode enforces the send window, persists the hashed pending code, and
// dispatches the plain code in the background. Issuing a new code replaces
// any previous pending one.
func (s *EmailOTPService) issueCode(ctx context.Context, identityID string, state *models.EmailOTPState) (*models.SendResult, error) {
	now := time.Now()

	if state.WindowResetsAt == nil || !now.Before(*state.WindowResetsAt) {
		reset := now.Add(s.cfg.SendWindow)
		state.WindowResetsAt = &reset
		state.SendCount = 0
	}
	if state.SendCount >= s.cfg.SendLimit {
		s.audit.LogMFAEvent("otp_send", identityID, string(models.MFAMethodEmail), false, "send rate limited")
		return &models.SendResult{
			RetryAfter: state.WindowResetsAt.Sub(now),
		}, models.ErrMFASendRateLimited
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	code, err := auth.GenerateNumericCode(emailOTPDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	hash := auth.HashOTPCode(code)
	expiry := now.Add(s.cfg.Expiry)
	state.CodeHash = &hash
	state.CodeExpiresAt = &expiry
	state.VerifyAttempts = 0
	state.SendCount++
	state.LastSentAt = &now

	if err := s.repo.Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to store OTP state: %w", err)
	}

	// Fire and forget: the login response does not wait on, or reveal,
	// delivery success. Failures are logged for operators only.
	go func(email, code string) {
		sendCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
		defer cancel()

		if err := s.sender.SendOTPCode(sendCtx, email, code); err != nil {
			s.logger.Error("email OTP delivery failed",
				slog.String("identity_id", identityID),
				slog.String("error", err.Error()))
		}
	}(identity.Email, code)

	s.audit.LogMFAEvent("otp_send", identityID, string(models.MFAMethodEmail), true, "")
	return &models.SendResult{Sent: true}, nil
}

// ConfirmSetup verifies the setup code and the account password together,
// then enables the email factor.
func (s *EmailOTPService) ConfirmSetup(ctx context.Context, identityID, password, code string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !pkgauth.VerifyPassword(password, identity.PasswordHash, identity.PasswordSalt) {
		s.audit.LogMFAEvent("otp_setup", identityID, string(models.MFAMethodEmail), false, "password mismatch")
		return models.ErrReauthenticationRequired
	}

	state, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFACodeInvalid
		}
		return fmt.Errorf("failed to load OTP state: %w", err)
	}
	if state.Enabled {
		return models.ErrMFAAlreadyEnabled
	}

	if err := s.checkCode(ctx, identityID, state, code); err != nil {
		return err
	}

	now := time.Now()
	state.Enabled = true
	state.EnabledAt = &now
	state.CodeHash = nil
	state.CodeExpiresAt = nil
	state.VerifyAttempts = 0
	if err := s.repo.Upsert(ctx, state); err != nil {
		return fmt.Errorf("failed to enable email OTP: %w", err)
	}

	if err := s.identities.SetMFASetupRequired(ctx, identityID, false); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to clear setup flag: %w", err)
	}

	s.audit.LogMFAEvent("otp_setup", identityID, string(models.MFAMethodEmail), true, "")
	return nil
}

// VerifyForLogin checks a login-time code. Wrong guesses burn attempts; the
// cap voids the pending code so a fresh send is required.
func (s *EmailOTPService) VerifyForLogin(ctx context.Context, identityID, code string) (*models.MFAVerifyResult, error) {
	state, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnabled
		}
		return nil, fmt.Errorf("failed to load OTP state: %w", err)
	}
	if !state.Enabled {
		return nil, models.ErrMFANotEnabled
	}

	if err := s.checkCode(ctx, identityID, state, code); err != nil {
		return nil, err
	}

	if err := s.repo.ClearPendingCode(ctx, identityID); err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodEmail), true, "")
	return &models.MFAVerifyResult{IdentityID: identityID}, nil
}

// checkCode validates a submitted code against the pending one, enforcing
// expiry and the attempt cap. The attempt is counted before the comparison so
// a guess always costs one attempt.
func (s *EmailOTPService) checkCode(ctx context.Context, identityID string, state *models.EmailOTPState, code string) error {
	if !state.HasPendingCode(time.Now()) {
		if state.CodeHash == nil {
			s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodEmail), false, "no pending code")
			return models.ErrMFACodeInvalid
		}
		if err := s.repo.ClearPendingCode(ctx, identityID); err != nil {
			return fmt.Errorf("failed to clear expired code: %w", err)
		}
		s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodEmail), false, "code expired")
		return models.ErrMFACodeExpired
	}

	attempts, err := s.repo.IncrementVerifyAttempts(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts > s.cfg.MaxAttempts {
		if err := s.repo.ClearPendingCode(ctx, identityID); err != nil {
			return fmt.Errorf("failed to void code: %w", err)
		}
		s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodEmail), false, "attempt cap reached")
		return models.ErrMFAAttemptsExhausted
	}

	if subtle.ConstantTimeCompare([]byte(auth.HashOTPCode(code)), []byte(*state.CodeHash)) != 1 {
		s.audit.LogMFAEvent("mfa_verify", identityID, string(models.MFAMethodEmail), false, "code mismatch")
		return models.ErrMFACodeInvalid
	}

	return nil
}

// Enabled reports whether the identity has the email factor active.
func (s *EmailOTPService) Enabled(ctx context.Context, identityID string) (bool, error) {
	state, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return state.Enabled, nil
}

// Disable turns the email factor off after password re-verification.
func (s *EmailOTPService) Disable(ctx context.Context, identityID, password string) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !pkgauth.VerifyPassword(password, identity.PasswordHash, identity.PasswordSalt) {
		s.audit.LogMFAEvent("otp_disable", identityID, string(models.MFAMethodEmail), false, "password mismatch")
		return models.ErrReauthenticationRequired
	}

	if err := s.repo.Delete(ctx, identityID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		return fmt.Errorf("failed to disable email OTP: %w", err)
	}

	s.audit.LogMFAEvent("otp_disable", identityID, string(models.MFAMethodEmail), true, "")
	return nil
}

// PurgeExpired clears expired pending codes. Called by the cleanup job.
func (s *EmailOTPService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredCodes(ctx, time.Now())
}
