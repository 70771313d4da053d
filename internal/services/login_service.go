package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/auth"
	"github.com/kestrelpay/onboard-auth/internal/models"
	pkgauth "github.com/kestrelpay/onboard-auth/pkg/auth"
	"github.com/kestrelpay/onboard-auth/pkg/logger"
)

// IdentityStore is the identity persistence the services consume. Satisfied
// by repositories.IdentityRepository.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	SetMFASetupRequired(ctx context.Context, id string, required bool) error
}

// LoginService orchestrates the login state machine: lockout gate, password
// check, then the MFA branch. It also owns registration.
type LoginService struct {
	identities IdentityStore
	lockout    *LockoutService
	totp       *TOTPService
	emailOTP   *EmailOTPService
	challenges *auth.ChallengeManager
	timing     *auth.TimingDelay
	audit      *logger.AuditLogger
}

// NewLoginService creates a LoginService.
func NewLoginService(
	identities IdentityStore,
	lockout *LockoutService,
	totp *TOTPService,
	emailOTP *EmailOTPService,
	challenges *auth.ChallengeManager,
	timing *auth.TimingDelay,
	audit *logger.AuditLogger,
) *LoginService {
	return &LoginService{
		identities: identities,
		lockout:    lockout,
		totp:       totp,
		emailOTP:   emailOTP,
		challenges: challenges,
		timing:     timing,
		audit:      audit,
	}
}

// Register creates a new identity with MFA setup pending. The password must
// pass policy; the email is stored lower-cased.
func (s *LoginService) Register(ctx context.Context, email, password, name string) (*models.Identity, error) {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrBadRequest, err.Error())
	}

	hash, salt, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	identity, err := s.identities.Create(ctx, &models.Identity{
		Email:            strings.ToLower(email),
		PasswordHash:     hash,
		PasswordSalt:     salt,
		Name:             name,
		MFASetupRequired: true,
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAccountAction("registered", identity.ID, "", nil)
	return identity, nil
}

// Login runs the credential-check step. The returned challenge token is
// non-empty only for the mfa_required outcome; it correlates this call with
// the later VerifyMFA call.
func (s *LoginService) Login(ctx context.Context, email, password, origin string) (*models.LoginResult, string, error) {
	start := time.Now()
	email = strings.ToLower(email)

	// Lockout gate first: a locked key fails without paying KDF cost.
	status, err := s.lockout.Check(ctx, email, origin)
	if err != nil {
		return nil, "", err
	}
	if status.Locked {
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login",
			Origin:        origin,
			FailureReason: "locked out",
		})
		return &models.LoginResult{
			Status:     models.LoginStatusLocked,
			RetryAfter: time.Until(status.LockedUntil),
		}, "", nil
	}

	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to load identity: %w", err)
	}

	// Unknown email verifies against empty material, burning the same KDF
	// cost, and still counts toward the lockout so the two failure modes
	// are indistinguishable from outside.
	var passwordOK bool
	var identityID *string
	if identity != nil {
		passwordOK = pkgauth.VerifyPassword(password, identity.PasswordHash, identity.PasswordSalt)
		identityID = &identity.ID
	} else {
		pkgauth.VerifyPassword(password, nil, nil)
	}

	if !passwordOK {
		failStatus, err := s.lockout.RecordFailure(ctx, email, origin, identityID)
		if err != nil {
			return nil, "", err
		}
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:     "login",
			IdentityID:    derefOrEmpty(identityID),
			Origin:        origin,
			FailureReason: "invalid credentials",
		})

		s.timing.WaitFrom(start, false)
		if failStatus.Locked {
			return &models.LoginResult{
				Status:     models.LoginStatusLocked,
				RetryAfter: time.Until(failStatus.LockedUntil),
			}, "", nil
		}
		return &models.LoginResult{Status: models.LoginStatusInvalid}, "", nil
	}

	if err := s.lockout.RecordSuccess(ctx, email, origin); err != nil {
		return nil, "", err
	}

	totpEnabled, err := s.totp.Enabled(ctx, identity.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read TOTP state: %w", err)
	}
	emailEnabled, err := s.emailOTP.Enabled(ctx, identity.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read email OTP state: %w", err)
	}

	if totpEnabled || emailEnabled {
		challenge := &models.LoginChallenge{
			IdentityID:     identity.ID,
			TOTPAvailable:  totpEnabled,
			EmailAvailable: emailEnabled,
			IssuedAt:       time.Now(),
		}
		token, err := s.challenges.Issue(challenge)
		if err != nil {
			return nil, "", err
		}

		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:  "login",
			IdentityID: identity.ID,
			Origin:     origin,
			Success:    true,
			Metadata:   map[string]string{"outcome": "mfa_required"},
		})
		s.timing.WaitFrom(start, true)
		return &models.LoginResult{
			Status:     models.LoginStatusMFARequired,
			IdentityID: identity.ID,
			Challenge:  challenge,
		}, token, nil
	}

	if identity.MFASetupRequired {
		// Provisionally authenticated: the caller may open a session but
		// must complete enrollment before anything else.
		s.audit.LogAuthAttempt(logger.AuditEvent{
			EventType:  "login",
			IdentityID: identity.ID,
			Origin:     origin,
			Success:    true,
			Metadata:   map[string]string{"outcome": "mfa_setup_required"},
		})
		s.timing.WaitFrom(start, true)
		return &models.LoginResult{
			Status:     models.LoginStatusMFASetupRequired,
			IdentityID: identity.ID,
		}, "", nil
	}

	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType:  "login",
		IdentityID: identity.ID,
		Origin:     origin,
		Success:    true,
		Metadata:   map[string]string{"outcome": "authenticated"},
	})
	s.timing.WaitFrom(start, true)
	return &models.LoginResult{
		Status:     models.LoginStatusAuthenticated,
		IdentityID: identity.ID,
	}, "", nil
}

// VerifyMFA completes the second step of a challenged login. When both
// methods are enabled the caller must name one; a failure here never counts
// toward the credential lockout, each engine bounds its own brute force.
func (s *LoginService) VerifyMFA(ctx context.Context, challengeToken string, method models.MFAMethod, code string) (*models.MFAVerifyResult, error) {
	challenge, err := s.challenges.Validate(challengeToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnauthorized, "challenge invalid or expired")
	}

	if method != "" && !method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", models.ErrBadRequest, method)
	}

	if method == "" {
		switch {
		case challenge.TOTPAvailable && challenge.EmailAvailable:
			return nil, fmt.Errorf("%w: method selection required", models.ErrBadRequest)
		case challenge.TOTPAvailable:
			method = models.MFAMethodTOTP
		case challenge.EmailAvailable:
			method = models.MFAMethodEmail
		default:
			return nil, models.ErrMFANotEnabled
		}
	}

	switch method {
	case models.MFAMethodTOTP:
		if !challenge.TOTPAvailable {
			return nil, models.ErrMFANotEnabled
		}
		return s.totp.VerifyForLogin(ctx, challenge.IdentityID, code)
	case models.MFAMethodEmail:
		if !challenge.EmailAvailable {
			return nil, models.ErrMFANotEnabled
		}
		return s.emailOTP.VerifyForLogin(ctx, challenge.IdentityID, code)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", models.ErrBadRequest, method)
	}
}

// SendLoginOTP dispatches an email code for a pending challenge.
func (s *LoginService) SendLoginOTP(ctx context.Context, challengeToken string) (*models.SendResult, error) {
	challenge, err := s.challenges.Validate(challengeToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnauthorized, "challenge invalid or expired")
	}
	if !challenge.EmailAvailable {
		return nil, models.ErrMFANotEnabled
	}

	return s.emailOTP.SendLoginCode(ctx, challenge.IdentityID)
}

// MFAStatus summarizes the identity's second-factor configuration.
type MFAStatus struct {
	SetupRequired        bool
	TOTPEnabled          bool
	EmailEnabled         bool
	BackupCodesRemaining int
}

// Status reports the MFA state for an identity.
func (s *LoginService) Status(ctx context.Context, identityID string) (*MFAStatus, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	totpEnabled, err := s.totp.Enabled(ctx, identityID)
	if err != nil {
		return nil, err
	}
	emailEnabled, err := s.emailOTP.Enabled(ctx, identityID)
	if err != nil {
		return nil, err
	}

	status := &MFAStatus{
		SetupRequired: identity.MFASetupRequired,
		TOTPEnabled:   totpEnabled,
		EmailEnabled:  emailEnabled,
	}
	if totpEnabled {
		remaining, err := s.totp.RemainingBackupCodes(ctx, identityID)
		if err != nil {
			return nil, err
		}
		status.BackupCodesRemaining = remaining
	}

	return status, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
