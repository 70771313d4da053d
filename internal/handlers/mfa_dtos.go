package handlers

// Request DTOs for MFA management. Sensitive operations carry the current
// password; the service layer re-verifies it.

// EnrollTOTPRequest begins an authenticator enrollment
type EnrollTOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
}

// ConfirmTOTPRequest completes an authenticator enrollment
type ConfirmTOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
	Secret     string `json:"secret" validate:"required"`
	Code       string `json:"code" validate:"required,len=6"`
}

// DisableTOTPRequest removes the authenticator
type DisableTOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
	Password   string `json:"password" validate:"required"`
}

// RegenerateBackupCodesRequest replaces the backup code set
type RegenerateBackupCodesRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
	Password   string `json:"password" validate:"required"`
}

// EnrollEmailOTPRequest sends the first setup code
type EnrollEmailOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
}

// ConfirmEmailOTPRequest enables the email method
type ConfirmEmailOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
	Password   string `json:"password" validate:"required"`
	Code       string `json:"code" validate:"required,len=6"`
}

// DisableEmailOTPRequest turns the email method off
type DisableEmailOTPRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid"`
	Password   string `json:"password" validate:"required"`
}

// Response DTOs

// EnrollTOTPResponse carries enrollment material. The secret round-trips
// through the confirmation request; it is not stored server-side yet.
type EnrollTOTPResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// ConfirmTOTPResponse returns the one-time view of the backup codes
type ConfirmTOTPResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backup_codes"`
	Message     string   `json:"message"`
}

// BackupCodesResponse returns a regenerated backup code set
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
	Message     string   `json:"message"`
}

// MFAStatusResponse summarizes the identity's MFA configuration
type MFAStatusResponse struct {
	SetupRequired        bool `json:"mfa_setup_required"`
	TOTPEnabled          bool `json:"totp_enabled"`
	EmailEnabled         bool `json:"email_enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// ActionResponse is a generic success acknowledgment
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
