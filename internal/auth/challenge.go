package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kestrelpay/onboard-auth/internal/models"
)

// ChallengeClaims are the claims carried by an MFA challenge token. The token
// only correlates login step 1 (credentials) with step 2 (code); it is not a
// session credential and grants no access on its own.
type ChallengeClaims struct {
	Type       string   `json:"typ"`
	IdentityID string   `json:"identity_id"`
	Methods    []string `json:"methods"`
	jwt.RegisteredClaims
}

// ChallengeManager signs and validates short-lived MFA challenge tokens.
type ChallengeManager struct {
	secret []byte
	ttl    time.Duration
}

// NewChallengeManager creates a ChallengeManager. ttl bounds how long a
// partially-completed login may sit between the password step and the code step.
func NewChallengeManager(secret string, ttl time.Duration) *ChallengeManager {
	return &ChallengeManager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue signs a token binding the pending login to the identity and the MFA
// methods available to it.
func (cm *ChallengeManager) Issue(challenge *models.LoginChallenge) (string, error) {
	methods := make([]string, 0, 2)
	for _, m := range challenge.Methods() {
		methods = append(methods, string(m))
	}

	now := time.Now()
	claims := &ChallengeClaims{
		Type:       "mfa_challenge",
		IdentityID: challenge.IdentityID,
		Methods:    methods,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a challenge token, reconstructing the pending
// challenge. Expired, malformed, or wrongly-typed tokens all fail.
func (cm *ChallengeManager) Validate(tokenString string) (*models.LoginChallenge, error) {
	claims := &ChallengeClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid challenge token: %w", err)
	}

	if !token.Valid || claims.Type != "mfa_challenge" || claims.IdentityID == "" {
		return nil, fmt.Errorf("invalid challenge token")
	}

	challenge := &models.LoginChallenge{
		IdentityID: claims.IdentityID,
	}
	if claims.IssuedAt != nil {
		challenge.IssuedAt = claims.IssuedAt.Time
	}
	for _, m := range claims.Methods {
		switch models.MFAMethod(m) {
		case models.MFAMethodTOTP:
			challenge.TOTPAvailable = true
		case models.MFAMethodEmail:
			challenge.EmailAvailable = true
		}
	}

	return challenge, nil
}
