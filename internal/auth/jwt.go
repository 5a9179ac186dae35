// Package auth verifies the HS256 bearer tokens minted by the external auth service.
// The hub trusts only the shared signing secret; it never queries the user directory.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token verification. The hub maps these to close codes.
var (
	// ErrInvalidToken covers malformed tokens, bad signatures, and expired tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidPayload is returned when the token verifies but the email claim is
	// missing or empty.
	ErrInvalidPayload = errors.New("token has no usable email claim")
)

// Claims holds the JWT claims the hub cares about. The subject identity is the email
// claim; everything else the auth service embeds is ignored.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// VerifyToken parses and validates a token string, enforcing HMAC signing. Expiry is
// honoured when the token carries an exp claim. On success it returns the identity
// from the email claim.
func VerifyToken(tokenStr, secret string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Email == "" {
		return "", ErrInvalidPayload
	}

	return claims.Email, nil
}

// NewToken creates a signed token carrying the email claim, matching what the auth
// service mints. A non-positive ttl omits the exp claim. Used by tests and local
// tooling; production tokens come from the auth service.
func NewToken(email, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret must not be empty")
	}

	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
