package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// SharedSecret authorizes requests presenting a static node token, either as
// a bearer token or in the X-Node-Token header.
type SharedSecret struct {
	secret []byte
}

// NewSharedSecret returns an authorizer comparing against secret. The secret
// is trimmed the same way presented credentials are.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: []byte(strings.TrimSpace(secret))}
}

// Authorize accepts the request only if the presented credential equals the secret.
func (s *SharedSecret) Authorize(_ context.Context, r *http.Request) (Principal, error) {
	presented := bearerToken(r)
	if presented == "" {
		presented = strings.TrimSpace(r.Header.Get(NodeTokenHeader))
	}
	if presented == "" {
		return Principal{}, ErrNoCredentials
	}
	if subtle.ConstantTimeCompare([]byte(presented), s.secret) != 1 {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Mode: ModeSharedSecret}, nil
}

// Mode returns ModeSharedSecret.
func (s *SharedSecret) Mode() Mode { return ModeSharedSecret }
