package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/models"
	"github.com/kestrelpay/onboard-auth/internal/repositories"
)

// LockoutService tracks failed credential checks per (email, origin) and
// enforces the temporary lockout once the threshold is crossed. Only
// credential failures count; MFA failures have their own caps and never
// touch these counters.
type LockoutService struct {
	store     repositories.LoginAttemptStore
	threshold int
	duration  time.Duration
}

// NewLockoutService creates a LockoutService. threshold is the number of
// consecutive failures that triggers a lockout; duration is how long the
// lockout holds.
func NewLockoutService(store repositories.LoginAttemptStore, threshold int, duration time.Duration) *LockoutService {
	return &LockoutService{
		store:     store,
		threshold: threshold,
		duration:  duration,
	}
}

// Check reports the current lockout state without recording anything. A
// lockout whose window has passed reads as a fresh cycle with the full
// attempt budget; the stale record is discarded on the next failure.
func (s *LockoutService) Check(ctx context.Context, email, origin string) (*models.LockoutStatus, error) {
	record, err := s.store.Get(ctx, strings.ToLower(email), origin)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.LockoutStatus{Remaining: s.threshold}, nil
		}
		return nil, fmt.Errorf("failed to read login attempts: %w", err)
	}

	now := time.Now()
	if record.Locked(now) {
		return &models.LockoutStatus{
			Locked:      true,
			LockedUntil: *record.LockedUntil,
		}, nil
	}

	// A lockout was set but has elapsed: the counter belongs to the finished
	// cycle and must not shrink the new budget.
	if record.LockedUntil != nil {
		return &models.LockoutStatus{Remaining: s.threshold}, nil
	}

	remaining := s.threshold - record.AttemptCount
	if remaining < 0 {
		remaining = 0
	}
	return &models.LockoutStatus{Remaining: remaining}, nil
}

// RecordFailure bumps the counter and, when it reaches the threshold, starts
// the lockout clock from this failure. A record carrying an elapsed lockout
// is discarded first, so the new cycle starts its count at one.
func (s *LockoutService) RecordFailure(ctx context.Context, email, origin string, identityID *string) (*models.LockoutStatus, error) {
	now := time.Now()
	key := strings.ToLower(email)

	if record, err := s.store.Get(ctx, key, origin); err == nil {
		if record.LockedUntil != nil && !record.Locked(now) {
			if err := s.store.Delete(ctx, key, origin); err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("failed to reset lockout cycle: %w", err)
			}
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to read login attempts: %w", err)
	}

	record, err := s.store.Increment(ctx, key, origin, identityID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}

	if record.AttemptCount < s.threshold {
		return &models.LockoutStatus{Remaining: s.threshold - record.AttemptCount}, nil
	}

	until := now.Add(s.duration)
	if err := s.store.SetLockout(ctx, key, origin, until); err != nil {
		return nil, fmt.Errorf("failed to set lockout: %w", err)
	}

	return &models.LockoutStatus{
		Locked:      true,
		LockedUntil: until,
	}, nil
}

// RecordSuccess clears the counter for this key. Other origins keep theirs.
func (s *LockoutService) RecordSuccess(ctx context.Context, email, origin string) error {
	if err := s.store.Delete(ctx, strings.ToLower(email), origin); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}

// PurgeStale removes records untouched since the cutoff. Called by the
// background cleanup job.
func (s *LockoutService) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now().Add(-olderThan))
}
