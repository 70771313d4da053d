package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelpay/onboard-auth/internal/models"
	"github.com/kestrelpay/onboard-auth/internal/services"
	pkghttp "github.com/kestrelpay/onboard-auth/pkg/http"
)

// TOTPServiceInterface defines the authenticator management operations
type TOTPServiceInterface interface {
	BeginEnrollment(ctx context.Context, identityID string) (*models.TOTPEnrollment, error)
	ConfirmEnrollment(ctx context.Context, identityID, secret, code string) ([]string, error)
	Disable(ctx context.Context, identityID, password string) error
	RegenerateBackupCodes(ctx context.Context, identityID, password string) ([]string, error)
}

// EmailOTPServiceInterface defines the email-method management operations
type EmailOTPServiceInterface interface {
	SendSetupCode(ctx context.Context, identityID string) (*models.SendResult, error)
	ConfirmSetup(ctx context.Context, identityID, password, code string) error
	Disable(ctx context.Context, identityID, password string) error
}

// StatusProvider reports MFA configuration for an identity
type StatusProvider interface {
	Status(ctx context.Context, identityID string) (*services.MFAStatus, error)
}

// MFAHandler handles MFA management HTTP requests
type MFAHandler struct {
	totpService  TOTPServiceInterface
	emailService EmailOTPServiceInterface
	status       StatusProvider
	logger       *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(totpService TOTPServiceInterface, emailService EmailOTPServiceInterface, status StatusProvider, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		totpService:  totpService,
		emailService: emailService,
		status:       status,
		logger:       logger,
	}
}

// EnrollTOTP handles POST /auth/mfa/totp to begin authenticator enrollment
func (h *MFAHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	var req EnrollTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	enrollment, err := h.totpService.BeginEnrollment(r.Context(), req.IdentityID)
	if err != nil {
		h.writeManagementError(w, "failed to begin TOTP enrollment", err)
		return
	}

	writeJSON(w, http.StatusOK, EnrollTOTPResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCodeDataURL,
	})
}

// ConfirmTOTP handles POST /auth/mfa/totp/confirm
func (h *MFAHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if !isNumeric(req.Code) {
		pkghttp.WriteBadRequest(w, "code must be 6 digits")
		return
	}

	backupCodes, err := h.totpService.ConfirmEnrollment(r.Context(), req.IdentityID, req.Secret, req.Code)
	if err != nil {
		h.writeManagementError(w, "failed to confirm TOTP enrollment", err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmTOTPResponse{
		Success:     true,
		BackupCodes: backupCodes,
		Message:     "Authenticator enabled. Store these backup codes securely; they will not be shown again.",
	})
}

// DisableTOTP handles POST /auth/mfa/totp/disable
func (h *MFAHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	var req DisableTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.totpService.Disable(r.Context(), req.IdentityID, req.Password); err != nil {
		h.writeManagementError(w, "failed to disable TOTP", err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Authenticator disabled"})
}

// RegenerateBackupCodes handles POST /auth/mfa/totp/backup-codes
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req RegenerateBackupCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.totpService.RegenerateBackupCodes(r.Context(), req.IdentityID, req.Password)
	if err != nil {
		h.writeManagementError(w, "failed to regenerate backup codes", err)
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{
		BackupCodes: codes,
		Message:     "Previous backup codes are no longer valid.",
	})
}

// EnrollEmailOTP handles POST /auth/mfa/email to send the first setup code
func (h *MFAHandler) EnrollEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req EnrollEmailOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.emailService.SendSetupCode(r.Context(), req.IdentityID)
	if err != nil {
		if errors.Is(err, models.ErrMFASendRateLimited) && result != nil {
			pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "send_rate_limited",
				"Too many codes requested. Please try again later.", result.RetryAfter)
			return
		}
		h.writeManagementError(w, "failed to send setup code", err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Verification code sent"})
}

// ConfirmEmailOTP handles POST /auth/mfa/email/confirm
func (h *MFAHandler) ConfirmEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if !isNumeric(req.Code) {
		pkghttp.WriteBadRequest(w, "code must be 6 digits")
		return
	}

	if err := h.emailService.ConfirmSetup(r.Context(), req.IdentityID, req.Password, req.Code); err != nil {
		h.writeManagementError(w, "failed to confirm email OTP setup", err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Email verification enabled"})
}

// DisableEmailOTP handles POST /auth/mfa/email/disable
func (h *MFAHandler) DisableEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req DisableEmailOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.emailService.Disable(r.Context(), req.IdentityID, req.Password); err != nil {
		h.writeManagementError(w, "failed to disable email OTP", err)
		return
	}

	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: "Email verification disabled"})
}

// Status handles GET /auth/mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity_id")
	if identityID == "" {
		pkghttp.WriteBadRequest(w, "identity_id is required")
		return
	}

	status, err := h.status.Status(r.Context(), identityID)
	if err != nil {
		h.writeManagementError(w, "failed to read MFA status", err)
		return
	}

	writeJSON(w, http.StatusOK, MFAStatusResponse{
		SetupRequired:        status.SetupRequired,
		TOTPEnabled:          status.TOTPEnabled,
		EmailEnabled:         status.EmailEnabled,
		BackupCodesRemaining: status.BackupCodesRemaining,
	})
}

// writeManagementError maps service errors from the management path
func (h *MFAHandler) writeManagementError(w http.ResponseWriter, logMsg string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrMFAAlreadyEnabled):
		pkghttp.WriteConflict(w, "Method already enabled")
	case errors.Is(err, models.ErrMFANotEnabled):
		pkghttp.WriteBadRequest(w, "Method not enabled")
	case errors.Is(err, models.ErrMFACodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_code_invalid", "Verification failed")
	case errors.Is(err, models.ErrMFACodeExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_code_expired", "Code expired, request a new one")
	case errors.Is(err, models.ErrMFAAttemptsExhausted):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_attempts_exhausted", "Too many attempts, request a new code")
	case errors.Is(err, models.ErrReauthenticationRequired):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	default:
		h.logger.Error(logMsg, slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
