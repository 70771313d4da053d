package models

import "time"

// EmailOTPState holds the per-identity email one-time-code configuration and
// the in-flight pending code, if any. The pending code is stored hashed and
// cleared on successful verification or expiry.
type EmailOTPState struct {
	IdentityID     string
	Enabled        bool
	EnabledAt      *time.Time
	CodeHash       *string
	CodeExpiresAt  *time.Time
	VerifyAttempts int // failed attempts against the current pending code
	SendCount      int // sends within the current rate-limit window
	WindowResetsAt *time.Time
	LastSentAt     *time.Time
}

// HasPendingCode reports whether an unexpired code is awaiting verification.
func (s *EmailOTPState) HasPendingCode(now time.Time) bool {
	return s.CodeHash != nil && s.CodeExpiresAt != nil && now.Before(*s.CodeExpiresAt)
}
