package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/kestrelpay/onboard-auth/internal/handlers"
	"github.com/kestrelpay/onboard-auth/internal/middleware"
)

// RegisterRoutes registers all application routes. Everything here is
// public: login step 2 is authenticated by the challenge token, and the
// management endpoints re-verify the password where it matters. Session
// issuance is the caller's concern.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
) {
	// Per-IP rate limit on the endpoints that accept credentials or codes
	rateLimitConfig := middleware.DefaultAuthRateLimit()
	limited := middleware.RateLimitByIP(rateLimitConfig)

	router.With(limited).Post("/auth/register", authHandler.Register)
	router.With(limited).Post("/auth/login", authHandler.Login)
	router.With(limited).Post("/auth/mfa/verify", authHandler.VerifyMFA)
	router.With(limited).Post("/auth/mfa/send", authHandler.SendLoginOTP)

	// MFA management
	router.Route("/auth/mfa", func(r chi.Router) {
		r.Get("/status", mfaHandler.Status)

		r.Post("/totp", mfaHandler.EnrollTOTP)
		r.With(limited).Post("/totp/confirm", mfaHandler.ConfirmTOTP)
		r.With(limited).Post("/totp/disable", mfaHandler.DisableTOTP)
		r.With(limited).Post("/totp/backup-codes", mfaHandler.RegenerateBackupCodes)

		r.With(limited).Post("/email", mfaHandler.EnrollEmailOTP)
		r.With(limited).Post("/email/confirm", mfaHandler.ConfirmEmailOTP)
		r.With(limited).Post("/email/disable", mfaHandler.DisableEmailOTP)
	})
}
