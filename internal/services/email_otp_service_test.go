package services

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelpay/onboard-auth/internal/models"
	pkgauth "github.com/kestrelpay/onboard-auth/pkg/auth"
)

type emailOTPFixture struct {
	svc        *EmailOTPService
	store      *memEmailOTPStore
	identities *memIdentityStore
	sender     *recordingSender
	identity   *models.Identity
}

func newEmailOTPFixture(t *testing.T) *emailOTPFixture {
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

	store := newMemEmailOTPStore()
	sender := newRecordingSender()
	svc := NewEmailOTPService(store, identities, sender, newTestAudit(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		EmailOTPConfig{
			Expiry:      10 * time.Minute,
			MaxAttempts: 5,
			SendLimit:   5,
			SendWindow:  1 * time.Hour,
			SendTimeout: 5 * time.Second,
		})

	return &emailOTPFixture{svc: svc, store: store, identities: identities, sender: sender, identity: identity}
}

// waitForCode blocks until the background dispatch lands in the recorder.
func (f *emailOTPFixture) waitForCode(t *testing.T, wantCount int) string {
	t.Helper()

	require.Eventually(t, func() bool {
		return f.sender.sentCount() >= wantCount
	}, 2*time.Second, 10*time.Millisecond, "code was never dispatched")
	return f.sender.lastCode()
}

// enable runs the setup flow to completion.
func (f *emailOTPFixture) enable(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	result, err := f.svc.SendSetupCode(ctx, f.identity.ID)
	require.NoError(t, err)
	require.True(t, result.Sent)

	code := f.waitForCode(t, 1)
	require.NoError(t, f.svc.ConfirmSetup(ctx, f.identity.ID, testPassword, code))
}

func TestEmailOTPService_SetupFlow(t *testing.T) {
	f := newEmailOTPFixture(t)
	ctx := context.Background()

	result, err := f.svc.SendSetupCode(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.True(t, result.Sent)

	code := f.waitForCode(t, 1)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	require.NoError(t, f.svc.ConfirmSetup(ctx, f.identity.ID, testPassword, code))

	enabled, err := f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	identity, err := f.identities.GetByID(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, identity.MFASetupRequired)
}

func TestEmailOTPService_ConfirmRequiresPassword(t *testing.T) {
	f := newEmailOTPFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendSetupCode(ctx, f.identity.ID)
	require.NoError(t, err)
	code := f.waitForCode(t, 1)

	err = f.svc.ConfirmSetup(ctx, f.identity.ID, "wrong-password", code)
	assert.ErrorIs(t, err, models.ErrReauthenticationRequired)
}

func TestEmailOTPService_LoginVerifyConsumesCode(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	result, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	require.True(t, result.Sent)
	code := f.waitForCode(t, 2)

	verify, err := f.svc.VerifyForLogin(ctx, f.identity.ID, code)
	require.NoError(t, err)
	assert.Equal(t, f.identity.ID, verify.IdentityID)

	// The code is single-use
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestEmailOTPService_AttemptCapVoidsCode(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	code := f.waitForCode(t, 2)

	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyForLogin(ctx, f.identity.ID, "000000")
		assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
	}

	// Cap reached: even the correct code no longer works
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, code)
	assert.ErrorIs(t, err, models.ErrMFAAttemptsExhausted)

	// And the pending code is voided entirely
	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestEmailOTPService_ExpiredCode(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	code := f.waitForCode(t, 2)

	// Age the pending code past expiry
	state, err := f.store.Get(ctx, f.identity.ID)
	require.NoError(t, err)
	past := time.Now().Add(-1 * time.Second)
	state.CodeExpiresAt = &past
	require.NoError(t, f.store.Upsert(ctx, state))

	_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeExpired)
}

func TestEmailOTPService_SendRateLimit(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	// The setup send already used one slot in the window
	for i := 0; i < 4; i++ {
		result, err := f.svc.SendLoginCode(ctx, f.identity.ID)
		require.NoError(t, err)
		assert.True(t, result.Sent)
	}

	result, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	assert.ErrorIs(t, err, models.ErrMFASendRateLimited)
	require.NotNil(t, result)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, 1*time.Hour)
}

func TestEmailOTPService_SendWindowResets(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	// Exhaust the window, then age it out
	for i := 0; i < 4; i++ {
		_, err := f.svc.SendLoginCode(ctx, f.identity.ID)
		require.NoError(t, err)
	}
	state, err := f.store.Get(ctx, f.identity.ID)
	require.NoError(t, err)
	past := time.Now().Add(-1 * time.Second)
	state.WindowResetsAt = &past
	require.NoError(t, f.store.Upsert(ctx, state))

	result, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.True(t, result.Sent)
}

func TestEmailOTPService_NewSendReplacesPendingCode(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	first := f.waitForCode(t, 2)

	_, err = f.svc.SendLoginCode(ctx, f.identity.ID)
	require.NoError(t, err)
	second := f.waitForCode(t, 3)

	if first != second {
		// The superseded code no longer verifies
		_, err = f.svc.VerifyForLogin(ctx, f.identity.ID, first)
		assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
	}

	verify, err := f.svc.VerifyForLogin(ctx, f.identity.ID, second)
	require.NoError(t, err)
	assert.Equal(t, f.identity.ID, verify.IdentityID)
}

func TestEmailOTPService_SendLoginCodeRequiresEnabled(t *testing.T) {
	f := newEmailOTPFixture(t)

	_, err := f.svc.SendLoginCode(context.Background(), f.identity.ID)
	assert.ErrorIs(t, err, models.ErrMFANotEnabled)
}

func TestEmailOTPService_Disable(t *testing.T) {
	f := newEmailOTPFixture(t)
	f.enable(t)
	ctx := context.Background()

	err := f.svc.Disable(ctx, f.identity.ID, "wrong-password")
	assert.ErrorIs(t, err, models.ErrReauthenticationRequired)

	require.NoError(t, f.svc.Disable(ctx, f.identity.ID, testPassword))

	enabled, err := f.svc.Enabled(ctx, f.identity.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}
