package models

import (
	"time"
)

// TOTPCredential is a per-identity authenticator enrollment.
// The shared secret is AES-256-GCM encrypted at rest.
type TOTPCredential struct {
	IdentityID      string
	SecretEncrypted []byte
	SecretNonce     []byte // GCM nonce (12 bytes)
	Enabled         bool
	EnabledAt       *time.Time
	LastUsedAt      *time.Time // for replay prevention within the skew window
}

// BackupCode is a single-use recovery credential. Only the SHA-256 hash is
// stored; the plain code is shown to the user exactly once at generation.
type BackupCode struct {
	ID         string
	IdentityID string
	CodeHash   string
	CreatedAt  time.Time
	UsedAt     *time.Time // nil = still available
}

// TOTPEnrollment is the transient output of starting enrollment. Nothing is
// persisted until the first code verifies; the secret round-trips through the
// client in the confirmation request.
type TOTPEnrollment struct {
	Secret          string // base32, manual-entry key
	ProvisioningURI string // otpauth:// URI for QR rendering
	QRCodeDataURL   string // PNG data URL of the provisioning URI
}
