package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and missing claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the token was well-formed but past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Claims carries the subject identity issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Principal is the verified identity behind a connection.
type Principal struct {
	RecipientID string
	ExpiresAt   time.Time
}

// Validator verifies bearer tokens locally against the shared HS256 secret.
// No network round trip is made; expiry checks tolerate the configured
// clock skew.
type Validator struct {
	secret []byte
	skew   time.Duration
}

func NewValidator(secret string, skew time.Duration) *Validator {
	return &Validator{
		secret: []byte(secret),
		skew:   skew,
	}
}

func (v *Validator) Validate(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}

	if !parsed.Valid || claims.UserID == "" {
		return Principal{}, ErrInvalidToken
	}

	return Principal{
		RecipientID: claims.UserID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Expired reports whether a previously validated principal has since passed
// its expiry. Used by the periodic re-validation tick on open sessions.
func (v *Validator) Expired(p Principal, now time.Time) bool {
	return now.After(p.ExpiresAt.Add(v.skew))
}
