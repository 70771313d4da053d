package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelpay/onboard-auth/internal/models"
)

func TestChallengeManager_RoundTrip(t *testing.T) {
	cm := NewChallengeManager("test-challenge-secret-32-bytes!!", 5*time.Minute)

	issued, err := cm.Issue(&models.LoginChallenge{
		IdentityID:     "identity-123",
		TOTPAvailable:  true,
		EmailAvailable: true,
		IssuedAt:       time.Now(),
	})
	require.NoError(t, err)

	challenge, err := cm.Validate(issued)
	require.NoError(t, err)
	assert.Equal(t, "identity-123", challenge.IdentityID)
	assert.True(t, challenge.TOTPAvailable)
	assert.True(t, challenge.EmailAvailable)
}

func TestChallengeManager_SingleMethod(t *testing.T) {
	cm := NewChallengeManager("test-challenge-secret-32-bytes!!", 5*time.Minute)

	issued, err := cm.Issue(&models.LoginChallenge{
		IdentityID:    "identity-123",
		TOTPAvailable: true,
	})
	require.NoError(t, err)

	challenge, err := cm.Validate(issued)
	require.NoError(t, err)
	assert.True(t, challenge.TOTPAvailable)
	assert.False(t, challenge.EmailAvailable)
	assert.Equal(t, []models.MFAMethod{models.MFAMethodTOTP}, challenge.Methods())
}

func TestChallengeManager_Expired(t *testing.T) {
	cm := NewChallengeManager("test-challenge-secret-32-bytes!!", -1*time.Minute)

	issued, err := cm.Issue(&models.LoginChallenge{IdentityID: "identity-123"})
	require.NoError(t, err)

	_, err = cm.Validate(issued)
	assert.Error(t, err)
}

func TestChallengeManager_WrongSecret(t *testing.T) {
	cm := NewChallengeManager("test-challenge-secret-32-bytes!!", 5*time.Minute)
	other := NewChallengeManager("a-completely-different-secret!!!", 5*time.Minute)

	issued, err := cm.Issue(&models.LoginChallenge{IdentityID: "identity-123"})
	require.NoError(t, err)

	_, err = other.Validate(issued)
	assert.Error(t, err)
}

func TestChallengeManager_Garbage(t *testing.T) {
	cm := NewChallengeManager("test-challenge-secret-32-bytes!!", 5*time.Minute)

	_, err := cm.Validate("not.a.token")
	assert.Error(t, err)
}
