package models

import (
	"time"
)

// Identity is a user principal of the onboarding portal.
type Identity struct {
	ID               string
	Email            string // stored lower-cased, unique
	PasswordHash     []byte // argon2id derived key
	PasswordSalt     []byte // per-identity random salt
	Name             string
	MFASetupRequired bool // set at registration, cleared on first MFA enrollment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
