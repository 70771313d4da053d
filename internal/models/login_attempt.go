package models

import "time"

// LoginAttemptRecord tracks failed login attempts for one (email, origin) key.
// Email is stored lower-cased so case variation cannot dodge the lockout.
// Origins get independent budgets: one hostile origin cannot lock out a
// shared-NAT population, at the cost of a distributed attacker spreading
// attempts across origins. That trade-off is intentional.
type LoginAttemptRecord struct {
	Email         string
	Origin        string
	AttemptCount  int
	LastAttemptAt time.Time
	LockedUntil   *time.Time
	IdentityID    *string // filled in once the email resolves to a real account
}

// Locked reports whether the record carries an active lockout.
func (r *LoginAttemptRecord) Locked(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// LockoutStatus is returned by the lockout tracker when an attempt is refused.
type LockoutStatus struct {
	Locked      bool
	LockedUntil time.Time
	Remaining   int
}
