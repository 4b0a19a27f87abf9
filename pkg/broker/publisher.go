// Package broker publishes serialized envelopes onto a pub/sub channel.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind names a broker backend.
type Kind string

const (
	// KindRedis publishes with Redis PUBLISH over a pooled go-redis client.
	KindRedis Kind = "redis"
	// KindGooglePubsub publishes to a Google Cloud Pub/Sub topic named after the channel.
	KindGooglePubsub Kind = "gcp_pubsub"
)

var (
	// ErrUnavailable marks failures where the broker could not be reached in
	// time: pool exhaustion, pool wait timeout, or an expired deadline.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrPublish marks any other failure of a publish attempt.
	ErrPublish = errors.New("broker publish failed")
)

// Publisher sends one message to one channel. Implementations must be safe for
// concurrent use; each Publish call is a single attempt with no retry.
type Publisher interface {
	// Publish returns the number of subscribers that received the message when
	// the backend reports it, or 0 when it does not. The count is informational.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	// Ping checks that the broker is reachable.
	Ping(ctx context.Context) error
	// Close releases pooled connections.
	Close() error
	// Backend names the implementation for logs and metrics.
	Backend() Kind
}

// Config holds the broker settings for every backend.
type Config struct {
	Kind        string
	RedisURL    string
	PoolSize    int
	PoolTimeout time.Duration
	// Channel is needed by backends that resolve it at construction time.
	Channel      string
	GCPProjectID string
	// RequirePing turns a failed startup ping into a construction error.
	RequirePing bool
}

// New builds the Publisher selected by cfg.Kind and pings it once.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Publisher, error) {
	var (
		pub Publisher
		err error
	)
	switch Kind(cfg.Kind) {
	case "", KindRedis:
		pub, err = NewRedisPublisher(cfg, logger)
	case KindGooglePubsub:
		pub, err = NewGooglePublisher(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown broker kind %q (expected redis or gcp_pubsub)", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if pingErr := pub.Ping(ctx); pingErr != nil {
		if cfg.RequirePing {
			_ = pub.Close()
			return nil, fmt.Errorf("broker ping failed: %w", pingErr)
		}
		// Connections are established lazily, so a broker that comes up later is still usable.
		logger.Warn().Err(pingErr).Str("backend", string(pub.Backend())).Msg("Broker not reachable at startup; continuing.")
	}
	return pub, nil
}
