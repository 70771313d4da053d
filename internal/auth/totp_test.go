package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))
	tm, err := NewTOTPManager(key, "KestrelPay")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_RejectsBadKeyLength(t *testing.T) {
	_, err := NewTOTPManager([]byte("short"), "KestrelPay")
	assert.Error(t, err)
}

func TestGenerateEnrollment(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("merchant@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enrollment.ProvisioningURI, "KestrelPay")
	assert.True(t, strings.HasPrefix(enrollment.QRCodeDataURL, "data:image/png;base64,"))
}

func TestValidate_SkewWindow(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("merchant@example.com")
	require.NoError(t, err)

	// Deterministic clock: generate the code for a fixed step T
	stepT := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	code, err := totp.GenerateCodeCustom(enrollment.Secret, stepT, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	// Accepted at T-1, T, T+1 steps
	assert.True(t, tm.Validate(enrollment.Secret, code, stepT.Add(-30*time.Second)))
	assert.True(t, tm.Validate(enrollment.Secret, code, stepT))
	assert.True(t, tm.Validate(enrollment.Secret, code, stepT.Add(30*time.Second)))

	// Rejected at T+2 and beyond
	assert.False(t, tm.Validate(enrollment.Secret, code, stepT.Add(60*time.Second)))
	assert.False(t, tm.Validate(enrollment.Secret, code, stepT.Add(10*time.Minute)))
}

func TestValidate_WrongCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("merchant@example.com")
	require.NoError(t, err)

	assert.False(t, tm.Validate(enrollment.Secret, "000000", time.Now()))
	assert.False(t, tm.Validate(enrollment.Secret, "", time.Now()))
	assert.False(t, tm.Validate("not-base32!!", "123456", time.Now()))
}

func TestSecretEncryptionRoundTrip(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("JBSWY3DPEHPK3PXP"), encrypted)

	secret, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", secret)
}

func TestDecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	encrypted[0] ^= 0xFF
	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestGenerateBackupCodes(t *testing.T) {
	tm := newTestTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		assert.False(t, seen[code], "backup codes must be unique")
		seen[code] = true
	}
}

func TestHashBackupCode_Deterministic(t *testing.T) {
	tm := newTestTOTPManager(t)

	h1 := tm.HashBackupCode("ABCD2345")
	h2 := tm.HashBackupCode("ABCD2345")
	h3 := tm.HashBackupCode("ABCD2346")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64) // hex sha256
}
