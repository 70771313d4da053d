package models

import "time"

// MFAMethod discriminates which second factor a verification request targets.
// When both methods are enabled the caller must select one explicitly rather
// than the server guessing from the code shape.
type MFAMethod string

const (
	MFAMethodTOTP  MFAMethod = "totp"
	MFAMethodEmail MFAMethod = "email"
)

// Valid reports whether m is a known method.
func (m MFAMethod) Valid() bool {
	return m == MFAMethodTOTP || m == MFAMethodEmail
}

// LoginStatus is the outcome of the credential-check step.
type LoginStatus string

const (
	LoginStatusAuthenticated    LoginStatus = "authenticated"
	LoginStatusMFARequired      LoginStatus = "mfa_required"
	LoginStatusMFASetupRequired LoginStatus = "mfa_setup_required"
	LoginStatusLocked           LoginStatus = "locked"
	LoginStatusInvalid          LoginStatus = "invalid_credentials"
)

// LoginResult is the tagged outcome of a login attempt. Exactly one status is
// set; the remaining fields are meaningful only for that status.
type LoginResult struct {
	Status     LoginStatus
	IdentityID string // set for authenticated / mfa_required / mfa_setup_required

	// Locked
	RetryAfter time.Duration

	// MFARequired
	Challenge *LoginChallenge
}

// LoginChallenge is emitted when credentials verified but a second factor is
// still owed. It lives only between the credential check and the MFA
// verification call; it is never persisted.
type LoginChallenge struct {
	IdentityID     string
	TOTPAvailable  bool
	EmailAvailable bool
	IssuedAt       time.Time
}

// Methods lists the factors the challenge accepts.
func (c *LoginChallenge) Methods() []MFAMethod {
	methods := make([]MFAMethod, 0, 2)
	if c.TOTPAvailable {
		methods = append(methods, MFAMethodTOTP)
	}
	if c.EmailAvailable {
		methods = append(methods, MFAMethodEmail)
	}
	return methods
}

// MFAVerifyResult reports a completed second-factor verification.
type MFAVerifyResult struct {
	IdentityID     string
	UsedBackupCode bool
}

// SendResult reports an email OTP dispatch, including the rate-limit window
// reset for clients that need a retry countdown.
type SendResult struct {
	Sent       bool
	RetryAfter time.Duration // zero unless rate limited
}
