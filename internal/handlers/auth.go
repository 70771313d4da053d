package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kestrelpay/onboard-auth/internal/models"
	pkghttp "github.com/kestrelpay/onboard-auth/pkg/http"
)

// LoginServiceInterface defines the interface for the login orchestrator
type LoginServiceInterface interface {
	Register(ctx context.Context, email, password, name string) (*models.Identity, error)
	Login(ctx context.Context, email, password, origin string) (*models.LoginResult, string, error)
	VerifyMFA(ctx context.Context, challengeToken string, method models.MFAMethod, code string) (*models.MFAVerifyResult, error)
	SendLoginOTP(ctx context.Context, challengeToken string) (*models.SendResult, error)
}

// AuthHandler handles registration, login, and the MFA verification step
type AuthHandler struct {
	service  LoginServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=200"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyMFARequest represents the request body for the second login step.
// Method may be omitted when only one MFA method is enabled.
type VerifyMFARequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
	Code     string `json:"code" validate:"required,min=6,max=16"`
	Method   string `json:"method" validate:"omitempty,oneof=totp email"`
}

// SendLoginOTPRequest requests an email code for a pending challenge
type SendLoginOTPRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
}

// Response DTOs

// RegisterResponse confirms account creation
type RegisterResponse struct {
	IdentityID       string `json:"identity_id"`
	Email            string `json:"email"`
	MFASetupRequired bool   `json:"mfa_setup_required"`
}

// LoginResponse is the tagged outcome of the credential step
type LoginResponse struct {
	Status     string   `json:"status"`
	IdentityID string   `json:"identity_id,omitempty"`
	MFAToken   string   `json:"mfa_token,omitempty"`
	Methods    []string `json:"methods,omitempty"`
}

// VerifyMFAResponse confirms a completed second factor
type VerifyMFAResponse struct {
	Authenticated  bool   `json:"authenticated"`
	IdentityID     string `json:"identity_id"`
	UsedBackupCode bool   `json:"used_backup_code,omitempty"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	identity, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Registration failed")
		default:
			h.logger.Error("registration failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		IdentityID:       identity.ID,
		Email:            identity.Email,
		MFASetupRequired: identity.MFASetupRequired,
	})
}

// Login handles POST /auth/login, the credential-check step
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	origin := pkghttp.ExtractOrigin(r, h.ipConfig)

	result, token, err := h.service.Login(r.Context(), req.Email, req.Password, origin)
	if err != nil {
		h.logger.Error("login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	switch result.Status {
	case models.LoginStatusLocked:
		pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "account_locked",
			"Too many failed login attempts. Please try again later.", result.RetryAfter)
	case models.LoginStatusInvalid:
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case models.LoginStatusMFARequired:
		methods := make([]string, 0, 2)
		for _, m := range result.Challenge.Methods() {
			methods = append(methods, string(m))
		}
		writeJSON(w, http.StatusOK, LoginResponse{
			Status:   string(result.Status),
			MFAToken: token,
			Methods:  methods,
		})
	case models.LoginStatusMFASetupRequired, models.LoginStatusAuthenticated:
		writeJSON(w, http.StatusOK, LoginResponse{
			Status:     string(result.Status),
			IdentityID: result.IdentityID,
		})
	default:
		h.logger.Error("unexpected login status", slog.String("status", string(result.Status)))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// VerifyMFA handles POST /auth/mfa/verify, the second login step
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyMFA(r.Context(), req.MFAToken, models.MFAMethod(req.Method), req.Code)
	if err != nil {
		h.writeMFAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyMFAResponse{
		Authenticated:  true,
		IdentityID:     result.IdentityID,
		UsedBackupCode: result.UsedBackupCode,
	})
}

// SendLoginOTP handles POST /auth/mfa/send for the email method
func (h *AuthHandler) SendLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req SendLoginOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.SendLoginOTP(r.Context(), req.MFAToken)
	if err != nil {
		if errors.Is(err, models.ErrMFASendRateLimited) && result != nil {
			pkghttp.WriteRetryableError(w, http.StatusTooManyRequests, "send_rate_limited",
				"Too many codes requested. Please try again later.", result.RetryAfter)
			return
		}
		h.writeMFAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"sent": result.Sent})
}

// writeMFAError maps service errors from the verification path. Invalid,
// expired, and exhausted all read as a generic failure plus a machine code;
// the message never confirms whether a code existed.
func (h *AuthHandler) writeMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMFACodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_code_invalid", "Verification failed")
	case errors.Is(err, models.ErrMFACodeExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_code_expired", "Code expired, request a new one")
	case errors.Is(err, models.ErrMFAAttemptsExhausted):
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_attempts_exhausted", "Too many attempts, request a new code")
	case errors.Is(err, models.ErrMFANotEnabled):
		pkghttp.WriteBadRequest(w, "Method not available")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Challenge invalid or expired")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Method selection required")
	default:
		h.logger.Error("mfa verification failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
