package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/services"
)

// staleAttemptAge is how long an untouched login-attempt record survives
// before the sweep removes it. Comfortably past any lockout duration.
const staleAttemptAge = 24 * time.Hour

// CleanupManager periodically purges stale login-attempt records and expired
// pending email OTP codes.
type CleanupManager struct {
	lockout  *services.LockoutService
	emailOTP *services.EmailOTPService
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	lockout *services.LockoutService,
	emailOTP *services.EmailOTPService,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		lockout:  lockout,
		emailOTP: emailOTP,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attempts, err := cm.lockout.PurgeStale(cleanupCtx, staleAttemptAge)
	if err != nil {
		cm.logger.Error("failed to purge stale login attempts", slog.Any("error", err))
	} else if attempts > 0 {
		cm.logger.Info("purged stale login attempts", slog.Int64("rows", attempts))
	}

	codes, err := cm.emailOTP.PurgeExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clear expired OTP codes", slog.Any("error", err))
	} else if codes > 0 {
		cm.logger.Info("cleared expired OTP codes", slog.Int64("rows", codes))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
