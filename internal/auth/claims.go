package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenIssuer is the iss claim of every access token.
const tokenIssuer = "openpeerpower"

// refreshTokenBytes is the entropy of a raw refresh token.
const refreshTokenBytes = 32

// AccessClaims is the payload of an access token. SessionID names the
// refresh token the access token was minted from.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
}

// signAccessToken mints an HS256 access token for user valid from now for ttl.
func signAccessToken(user *User, sessionID, secret string, now time.Time, ttl time.Duration) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      user.Role,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken returns a random hex refresh token. Only its
// HashToken form is stored.
func GenerateRefreshToken() (string, error) {
	raw, err := randomHex(refreshTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return raw, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ParseAccessToken checks the signature, issuer and expiry of token and
// returns its claims. Every failure wraps ErrTokenInvalid; an expired
// token also wraps ErrTokenExpired.
func ParseAccessToken(token, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrTokenExpired)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	for claim, value := range map[string]string{"sub": claims.Subject, "sid": claims.SessionID, "role": string(claims.Role)} {
		if value == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrTokenInvalid, claim)
		}
	}
	return claims, nil
}
