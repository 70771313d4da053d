package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalauth "github.com/kestrelpay/onboard-auth/internal/auth"
	"github.com/kestrelpay/onboard-auth/internal/models"
	pkgauth "github.com/kestrelpay/onboard-auth/pkg/auth"
	"github.com/kestrelpay/onboard-auth/pkg/logger"
)

const testPassword = "Tr1cky-Passphrase!"

func newTestAudit() *logger.AuditLogger {
	return logger.NewAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestTOTPManager(t *testing.T) *internalauth.TOTPManager {
	t.Helper()

	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	manager, err := internalauth.NewTOTPManager(key, "Test Issuer")
	require.NoError(t, err)
	return manager
}

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

type totpFixture struct {
	svc        *TOTPService
	store      *memTOTPStore
	identities *memIdentityStore
	identity   *models.Identity
}

func newTOTPFixture(t *testing.T) *totpFixture {
	t.Helper()

	hash, salt, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)

	identities := newMemIdentityStore()
	identity := identities.add(&models.Identity{
		ID:               "identity-1",
		Email:            "merchant@example.com",
		PasswordHash:     hash,
		PasswordSalt:     salt,
		MFASetupRequired: true,
	})

	store := newMemTOTPStore()
	svc := NewTOTPService(store, identities, newTestTOTPManager(t), newTestAudit(), 10)

	return &totpFixture{svc: svc, store: store, identities: identities, identity: identity}
}

// enroll runs the full enrollment flow and returns the secret and the plain
// backup codes.
func (f *totpFixture) enroll(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := f.svc.BeginEnrollment(ctx, f.identity.ID)
	require.NoError(t, err)

	code := totpCodeAt(t, enrollment.Secret, time.Now())
	backupCodes, err := f.svc.ConfirmEnrollment(ctx, f.identity.ID, enrollment.Secret, code)
	require.NoError(t, err)

	return enrollment.Secret, backupCodes
}

func TestTOTPService_EnrollmentFlow(t *testing.T) {
	f := newTOTPFixture(t)
	ctx := context.Background()

	enrollment, err := f.svc.BeginEnrollment(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCodeDataURL, "data:image/png;base64,")

	// Nothing persisted until confirmation
	enabled, err := f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, enabled)

	code := totpCodeAt(t, enrollment.Secret, time.Now())
	backupCodes, err := f.svc.ConfirmEnrollment(ctx, f.identity.ID, enrollment.Secret, code)
	require.NoError(t, err)
	assert.Len(t, backupCodes, 10)

	enabled, err = f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	// Enrollment satisfies the first-time setup requirement
	identity, err := f.identities.GetByID(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, identity.MFASetupRequired)
}

func TestTOTPService_ConfirmRejectsWrongCode(t *testing.T) {
	f := newTOTPFixture(t)
	ctx := context.Background()

	enrollment, err := f.svc.BeginEnrollment(ctx, f.identity.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmEnrollment(ctx, f.identity.ID, enrollment.Secret, "000000")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)

	enabled, err := f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestTOTPService_BeginRejectsExistingEnrollment(t *testing.T) {
	f := newTOTPFixture(t)
	f.enroll(t)

	_, err := f.svc.BeginEnrollment(context.Background(), f.identity.ID)
	assert.ErrorIs(t, err, models.ErrMFAAlreadyEnabled)
}

func TestTOTPService_VerifyForLogin(t *testing.T) {
	f := newTOTPFixture(t)
	secret, _ := f.enroll(t)
	ctx := context.Background()

	// Enrollment confirmation does not mark the code used, so this fresh
	// code verifies
	result, err := f.svc.VerifyForLogin(ctx, f.identity.ID, totpCodeAt(t, secret, time.Now()))
	require.NoError(t, err)
	assert.False(t, result.UsedBackupCode)

	// Replay inside the acceptance window is refused even with a valid code
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, totpCodeAt(t, secret, time.Now()))
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestTOTPService_VerifyForLoginNotEnrolled(t *testing.T) {
	f := newTOTPFixture(t)

	_, err := f.svc.VerifyForLogin(context.Background(), f.identity.ID, "123456")
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

func TestTOTPService_BackupCodeSingleUse(t *testing.T) {
	f := newTOTPFixture(t)
	_, backupCodes := f.enroll(t)
	ctx := context.Background()

	result, err := f.svc.VerifyForLogin(ctx, f.identity.ID, backupCodes[0])
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)

	remaining, err := f.svc.RemainingBackupCodes(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)

	// Same code again fails
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, backupCodes[0])
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestTOTPService_BackupCodeRecordsLastUse(t *testing.T) {
	f := newTOTPFixture(t)
	secret, backupCodes := f.enroll(t)
	ctx := context.Background()

	result, err := f.svc.VerifyForLogin(ctx, f.identity.ID, backupCodes[0])
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)

	cred, err := f.store.GetByIdentityID(ctx, f.identity.ID)
	require.NoError(t, err)
	require.NotNil(t, cred.LastUsedAt)
	assert.WithinDuration(t, time.Now(), *cred.LastUsedAt, 2*time.Second)

	// A TOTP code inside the acceptance window is refused like any other
	// replay, but further backup codes still work
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, totpCodeAt(t, secret, time.Now()))
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)

	result, err = f.svc.VerifyForLogin(ctx, f.identity.ID, backupCodes[1])
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)
}

func TestTOTPService_BackupCodeConcurrentUse(t *testing.T) {
	f := newTOTPFixture(t)
	_, backupCodes := f.enroll(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result, err := f.svc.VerifyForLogin(ctx, f.identity.ID, backupCodes[1]); err == nil && result.UsedBackupCode {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent use of a backup code may succeed")
}

func TestTOTPService_RegenerateInvalidatesOldCodes(t *testing.T) {
	f := newTOTPFixture(t)
	_, oldCodes := f.enroll(t)
	ctx := context.Background()

	newCodes, err := f.svc.RegenerateBackupCodes(ctx, f.identity.ID, testPassword)
	require.NoError(t, err)
	assert.Len(t, newCodes, 10)
	assert.NotEqual(t, oldCodes, newCodes)

	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, oldCodes[0])
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)

	result, err := f.svc.VerifyForLogin(ctx, f.identity.ID, newCodes[0])
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)
}

func TestTOTPService_RegenerateRequiresPassword(t *testing.T) {
	f := newTOTPFixture(t)
	f.enroll(t)

	_, err := f.svc.RegenerateBackupCodes(context.Background(), f.identity.ID, "wrong-password")
	assert.ErrorIs(t, err, models.ErrReauthenticationRequired)
}

func TestTOTPService_Disable(t *testing.T) {
	f := newTOTPFixture(t)
	f.enroll(t)
	ctx := context.Background()

	err := f.svc.Disable(ctx, f.identity.ID, "wrong-password")
	assert.ErrorIs(t, err, models.ErrReauthenticationRequired)

	require.NoError(t, f.svc.Disable(ctx, f.identity.ID, testPassword))

	enabled, err := f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}
