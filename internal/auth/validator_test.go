package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, userID string, expiresAt time.Time) string {
	t.Helper()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidate_ValidToken(t *testing.T) {
	v := NewValidator(testSecret, 30*time.Second)
	expiresAt := time.Now().Add(time.Hour)

	p, err := v.Validate(signToken(t, testSecret, "u1", expiresAt))

	require.NoError(t, err)
	assert.Equal(t, "u1", p.RecipientID)
	assert.WithinDuration(t, expiresAt, p.ExpiresAt, time.Second)
}

func TestValidate_ExpiredToken(t *testing.T) {
	v := NewValidator(testSecret, 30*time.Second)

	_, err := v.Validate(signToken(t, testSecret, "u1", time.Now().Add(-time.Hour)))

	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_ExpiryWithinSkewAccepted(t *testing.T) {
	v := NewValidator(testSecret, 30*time.Second)

	// Expired 10s ago, still inside the 30s skew window.
	p, err := v.Validate(signToken(t, testSecret, "u1", time.Now().Add(-10*time.Second)))

	require.NoError(t, err)
	assert.Equal(t, "u1", p.RecipientID)
}

func TestValidate_InvalidTokens(t *testing.T) {
	v := NewValidator(testSecret, 0)

	tests := []struct {
		name  string
		token string
	}{
		{"malformed", "not-a-token"},
		{"wrong secret", signToken(t, "other-secret", "u1", time.Now().Add(time.Hour))},
		{"missing user id", signToken(t, testSecret, "", time.Now().Add(time.Hour))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidate_RejectsUnsignedAlg(t *testing.T) {
	v := NewValidator(testSecret, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "u1",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpired(t *testing.T) {
	v := NewValidator(testSecret, 30*time.Second)
	p := Principal{RecipientID: "u1", ExpiresAt: time.Now()}

	assert.False(t, v.Expired(p, p.ExpiresAt.Add(10*time.Second)))
	assert.True(t, v.Expired(p, p.ExpiresAt.Add(time.Minute)))
}
