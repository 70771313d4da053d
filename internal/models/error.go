package models

import "errors"

// Sentinel errors for common failure conditions. Login outcomes travel as
// LoginResult statuses, not errors; wrong password and unknown email share
// the invalid_credentials status to avoid account enumeration.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// MFA errors
	ErrMFACodeInvalid           = errors.New("mfa code invalid")
	ErrMFACodeExpired           = errors.New("mfa code expired")
	ErrMFAAttemptsExhausted     = errors.New("mfa verification attempts exhausted")
	ErrMFASendRateLimited       = errors.New("mfa code send rate limited")
	ErrMFANotEnabled            = errors.New("mfa method not enabled")
	ErrMFAAlreadyEnabled        = errors.New("mfa method already enabled")
	ErrReauthenticationRequired = errors.New("password re-verification failed")
)
