package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT authorizes requests carrying an HS256 bearer token signed with the node
// signing key. The exp claim is mandatory.
type JWT struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWT returns a signed-token authorizer. An empty secret is a configuration
// error: signed-token mode never falls back to open mode.
func NewJWT(secret string, leeway time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("NODE_JWT_SECRET is required for jwt auth mode")
	}
	return &JWT{
		secret: []byte(secret),
		parser: jwt.NewParser(
			// Pinning the method rejects alg=none and key-confusion attempts.
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Authorize verifies the bearer token's signature, algorithm and expiry.
func (a *JWT) Authorize(_ context.Context, r *http.Request) (Principal, error) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return Principal{}, ErrNoCredentials
	}

	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("%w: %v", ErrExpiredCredentials, err)
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidCredentials
	}

	return Principal{Mode: ModeJWT, Subject: claims.Subject}, nil
}

// Mode returns ModeJWT.
func (a *JWT) Mode() Mode { return ModeJWT }

// IssueToken signs an HS256 token for subject that expires after ttl.
// The relay never issues tokens itself; this exists for operators and tests.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
