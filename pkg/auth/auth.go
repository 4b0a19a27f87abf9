// Package auth decides whether an inbound telemetry request may be forwarded.
//
// Exactly one Authorizer is active per deployment. It is selected at startup
// from Config and shared read-only across concurrent requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mode names an authorization strategy.
type Mode string

const (
	// ModeNone accepts every request. Intended for deployments authorized upstream.
	ModeNone Mode = "none"
	// ModeSharedSecret compares a presented credential with a configured secret.
	ModeSharedSecret Mode = "shared_secret"
	// ModeJWT verifies an HS256-signed bearer token.
	ModeJWT Mode = "jwt"
)

// NodeTokenHeader is the custom header accepted as an alternative to a bearer token.
const NodeTokenHeader = "X-Node-Token"

var (
	// ErrNoCredentials is returned when the request carries no credential at all.
	ErrNoCredentials = errors.New("no credentials provided")
	// ErrInvalidCredentials is returned for a credential that does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExpiredCredentials is returned for a signed token whose exp has elapsed.
	ErrExpiredCredentials = errors.New("credentials expired")
)

// ParseMode converts a configured mode string. An empty string selects shared-secret mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSharedSecret:
		return ModeSharedSecret, nil
	case ModeJWT:
		return ModeJWT, nil
	case ModeNone:
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (expected none, shared_secret or jwt)", s)
	}
}

// Principal identifies the caller once authorized. Subject is empty unless the
// credential carries an identity (a JWT sub claim).
type Principal struct {
	Mode    Mode
	Subject string
}

// Authorizer is the capability the ingestion handler consults before doing any
// other work on a request.
type Authorizer interface {
	// Authorize returns an error wrapping one of the package sentinels when the
	// request must be rejected.
	Authorize(ctx context.Context, r *http.Request) (Principal, error)
	// Mode reports the active strategy for logging.
	Mode() Mode
}

// Config selects and parameterizes the Authorizer.
type Config struct {
	Mode         string
	SharedSecret string
	JWTSecret    string
	JWTLeeway    time.Duration
	// Require refuses to start in open mode, i.e. shared_secret with no secret or mode none.
	Require bool
}

// New builds the Authorizer described by cfg. Misconfiguration is a startup
// error; the caller should treat it as fatal.
func New(cfg Config, logger zerolog.Logger) (Authorizer, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	log := logger.With().Str("component", "Authorizer").Str("auth_mode", string(mode)).Logger()

	switch mode {
	case ModeJWT:
		a, err := NewJWT(cfg.JWTSecret, cfg.JWTLeeway)
		if err != nil {
			return nil, err
		}
		log.Info().Dur("leeway", cfg.JWTLeeway).Msg("Signed-token authorization enabled.")
		return a, nil
	case ModeSharedSecret:
		if strings.TrimSpace(cfg.SharedSecret) != "" {
			log.Info().Msg("Shared-secret authorization enabled.")
			return NewSharedSecret(cfg.SharedSecret), nil
		}
		if cfg.Require {
			return nil, errors.New("auth is required but no shared secret is configured")
		}
		log.Warn().Msg("No shared secret configured; telemetry endpoint is open to any caller.")
		return Open{}, nil
	default:
		if cfg.Require {
			return nil, errors.New("auth is required but auth mode is none")
		}
		log.Warn().Msg("Authorization disabled; telemetry endpoint is open to any caller.")
		return Open{}, nil
	}
}

// Open accepts every request.
type Open struct{}

// Authorize always succeeds.
func (Open) Authorize(_ context.Context, _ *http.Request) (Principal, error) {
	return Principal{Mode: ModeNone}, nil
}

// Mode returns ModeNone.
func (Open) Mode() Mode { return ModeNone }

// bearerToken returns the token of an "Authorization: Bearer <token>" header,
// or "" when the header is absent, uses another scheme, or is blank.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
