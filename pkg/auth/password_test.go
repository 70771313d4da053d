package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, salt, err := HashPassword("Correct1!")
	require.NoError(t, err)
	assert.Len(t, hash, Argon2KeyLen)
	assert.Len(t, salt, SaltLength)
}

func TestHashPassword_EmptyPassword(t *testing.T) {
	_, _, err := HashPassword("")
	assert.Error(t, err)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	_, salt1, err := HashPassword("Correct1!")
	require.NoError(t, err)
	_, salt2, err := HashPassword("Correct1!")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
}

func TestVerifyPassword_RoundTrip(t *testing.T) {
	hash, salt, err := HashPassword("Correct1!")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("Correct1!", hash, salt))
	assert.False(t, VerifyPassword("Wrong1!", hash, salt))
	assert.False(t, VerifyPassword("correct1!", hash, salt))
	assert.False(t, VerifyPassword("", hash, salt))
}

func TestVerifyPassword_MalformedStoredValues(t *testing.T) {
	hash, salt, err := HashPassword("Correct1!")
	require.NoError(t, err)

	// Malformed stored values must verify false, never panic
	assert.False(t, VerifyPassword("Correct1!", nil, salt))
	assert.False(t, VerifyPassword("Correct1!", hash, nil))
	assert.False(t, VerifyPassword("Correct1!", []byte{0x01}, salt))
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ng!pass", false},
		{"too short", "Ab1!", true},
		{"no uppercase", "weak1pass!", true},
		{"no lowercase", "WEAK1PASS!", true},
		{"no digit", "Weakpass!!", true},
		{"no special", "Weakpass11", true},
		{"common password", "Password123!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasswordValidationError_GenericMessage(t *testing.T) {
	err := ValidatePassword("short")
	require.Error(t, err)

	// The public message never leaks specific requirements
	assert.Equal(t, "invalid password", err.Error())
}
