package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultPoolSize matches the connection budget of a single relay instance.
	DefaultPoolSize = 32
)

// RedisPublisher publishes envelopes with Redis PUBLISH. The go-redis client
// owns connection checkout and return, so a single RedisPublisher is shared by
// all in-flight requests.
type RedisPublisher struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisPublisher creates a publisher from a redis:// or rediss:// URL.
// PoolSize bounds concurrent connections and PoolTimeout bounds how long a
// publish waits for one. Nothing is dialed until the first command.
func NewRedisPublisher(cfg Config, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.PoolSize = DefaultPoolSize
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	// One attempt per publish: go-redis would otherwise retry pool timeouts
	// and network errors, multiplying the bounded wait.
	opts.MaxRetries = -1

	logger.Info().
		Str("redis_address", opts.Addr).
		Int("pool_size", opts.PoolSize).
		Dur("pool_timeout", opts.PoolTimeout).
		Msg("Redis publisher configured.")

	return NewRedisPublisherFromClient(redis.NewClient(opts), logger), nil
}

// NewRedisPublisherFromClient wraps an existing client. The publisher takes
// ownership and closes it on Close.
func NewRedisPublisherFromClient(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
		logger:      logger.With().Str("component", "RedisPublisher").Logger(),
	}
}

// Publish issues a single PUBLISH and returns the receiver count Redis reports.
// Zero receivers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	receivers, err := p.redisClient.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, classifyRedisError(channel, err)
	}
	p.logger.Debug().Str("channel", channel).Int64("receivers", receivers).Msg("Published message.")
	return receivers, nil
}

// Ping checks connectivity with a Redis PING.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.redisClient.Ping(ctx).Err(); err != nil {
		return classifyRedisError("", err)
	}
	return nil
}

// Backend returns KindRedis.
func (p *RedisPublisher) Backend() Kind { return KindRedis }

// Close closes the Redis client and its pool.
func (p *RedisPublisher) Close() error {
	if p.redisClient != nil {
		p.logger.Info().Msg("Closing Redis client connection...")
		return p.redisClient.Close()
	}
	return nil
}

// classifyRedisError separates "could not get to Redis in time" from other failures.
func classifyRedisError(channel string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: channel %q: %w", ErrUnavailable, channel, err)
	}
	return fmt.Errorf("%w: channel %q: %w", ErrPublish, channel, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, redis.ErrPoolTimeout) ||
		errors.Is(err, redis.ErrPoolExhausted) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
