package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kestrelpay/onboard-auth/internal/models"
)

const (
	// TOTPPeriod is the RFC 6238 time step.
	TOTPPeriod = 30 * time.Second

	// TOTPSkew accepts the adjacent step on either side for clock drift,
	// giving a 90-second total acceptance window.
	TOTPSkew = 1

	totpSecretSize  = 32 // 256 bits of entropy, base32-encoded for manual entry
	backupCodeLen   = 8
	backupCodeChars = "23456789ABCDEFGHJKMNPQRSTUVWXYZ" // no 0/O/1/I/L ambiguity
)

// TOTPManager handles TOTP enrollment material, secret encryption, and
// code validation.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name embedded in provisioning URIs
}

// NewTOTPManager creates a new TOTP manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateEnrollment produces fresh enrollment material: a random secret, the
// otpauth:// provisioning URI, and a QR PNG data URL. Nothing is persisted
// here; the secret rides with the client until the confirmation code proves
// the authenticator holds it.
func (tm *TOTPManager) GenerateEnrollment(accountLabel string) (*models.TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountLabel,
		SecretSize:  totpSecretSize,
		Period:      uint(TOTPPeriod / time.Second),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &models.TOTPEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Validate checks a code against a base32 secret at the given instant,
// accepting the current 30-second step and ±1 adjacent step.
func (tm *TOTPManager) Validate(secret, code string, at time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    uint(TOTPPeriod / time.Second),
		Skew:      TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Malformed secret or code validates false, nothing more specific
		return false
	}
	return valid
}

// EncryptSecret encrypts a base32 TOTP secret using AES-256-GCM.
// Returns the ciphertext and the random nonce used.
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(secret), nil)
	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encrypted, nonce []byte) (string, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

// GenerateBackupCodes generates count random single-use recovery codes.
// Format: 8 characters from an unambiguous alphanumeric charset.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	buf := make([]byte, backupCodeLen)

	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := make([]byte, backupCodeLen)
		for j, b := range buf {
			code[j] = backupCodeChars[int(b)%len(backupCodeChars)]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// HashBackupCode returns the hex SHA-256 of a backup code. The hash is
// deterministic so the store can match and consume a code in one conditional
// write; the codes carry enough entropy that the hash is not invertible.
func (tm *TOTPManager) HashBackupCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:])
}
