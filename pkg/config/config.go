// Package config loads the relay's settings from defaults, an optional YAML
// file, the environment and command-line overrides, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-telemetry-relay/pkg/auth"
	"github.com/illmade-knight/go-telemetry-relay/pkg/broker"
	"github.com/illmade-knight/go-telemetry-relay/pkg/telemetry"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Broker  BrokerConfig  `koanf:"broker"`
	Auth    AuthConfig    `koanf:"auth"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr        string        `koanf:"listen_addr"`
	TelemetryPath     string        `koanf:"telemetry_path"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// BrokerConfig selects and tunes the publish backend.
type BrokerConfig struct {
	Kind         string        `koanf:"kind"`
	RedisURL     string        `koanf:"redis_url"`
	PoolSize     int           `koanf:"pool_size"`
	PoolTimeout  time.Duration `koanf:"pool_timeout"`
	Channel      string        `koanf:"channel"`
	GCPProjectID string        `koanf:"gcp_project_id"`
	RequirePing  bool          `koanf:"require_ping"`
}

// AuthConfig selects the caller authorization mode.
type AuthConfig struct {
	Mode         string        `koanf:"mode"`
	SharedSecret string        `koanf:"shared_secret"`
	JWTSecret    string        `koanf:"jwt_secret"`
	JWTLeeway    time.Duration `koanf:"jwt_leeway"`
	Require      bool          `koanf:"require"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        "0.0.0.0:3000",
			TelemetryPath:     "/api/duty/telemetry/fast",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      64 << 10,
			RateLimitRequests: 0,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{},
		},
		Broker: BrokerConfig{
			Kind:        string(broker.KindRedis),
			RedisURL:    "redis://127.0.0.1:6379/0",
			PoolSize:    broker.DefaultPoolSize,
			PoolTimeout: 2 * time.Second,
			Channel:     telemetry.DefaultChannel,
		},
		Auth: AuthConfig{
			Mode:      string(auth.ModeSharedSecret),
			JWTLeeway: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without consulting any source.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration. path may be empty, in which case no file is
// read. overrides are koanf paths set last, typically from command-line flags.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envMappings maps the deployment's environment variable names to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	"listen_addr":         "server.listen_addr",
	"telemetry_path":      "server.telemetry_path",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"http_idle_timeout":   "server.idle_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"max_body_bytes":      "server.max_body_bytes",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	"broker_kind":         "broker.kind",
	"redis_url":           "broker.redis_url",
	"redis_pool_size":     "broker.pool_size",
	"redis_pool_timeout":  "broker.pool_timeout",
	"broker_channel":      "broker.channel",
	"gcp_project_id":      "broker.gcp_project_id",
	"broker_require_ping": "broker.require_ping",

	"auth_mode":       "auth.mode",
	"node_token":      "auth.shared_secret",
	"node_jwt_secret": "auth.jwt_secret",
	"node_jwt_leeway": "auth.jwt_leeway",
	"auth_require":    "auth.require",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransformFunc returns "" for unknown variables, which koanf skips.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated strings coming from the
// environment into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks every field that cannot be repaired with a default.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !strings.HasPrefix(c.Server.TelemetryPath, "/") {
		errs = append(errs, fmt.Errorf("server.telemetry_path must start with '/', got %q", c.Server.TelemetryPath))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.RateLimitRequests < 0 {
		errs = append(errs, errors.New("server.rate_limit_requests must not be negative"))
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("server.rate_limit_window must be positive when rate limiting is on"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch broker.Kind(c.Broker.Kind) {
	case broker.KindRedis:
		if c.Broker.RedisURL == "" {
			errs = append(errs, errors.New("broker.redis_url is required for the redis backend"))
		}
		if c.Broker.PoolSize <= 0 {
			errs = append(errs, errors.New("broker.pool_size must be positive"))
		}
		if c.Broker.PoolTimeout <= 0 {
			errs = append(errs, errors.New("broker.pool_timeout must be positive"))
		}
	case broker.KindGooglePubsub:
		if c.Broker.GCPProjectID == "" {
			errs = append(errs, errors.New("broker.gcp_project_id is required for the gcp_pubsub backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker.kind %q", c.Broker.Kind))
	}
	if c.Broker.Channel == "" {
		errs = append(errs, errors.New("broker.channel is required"))
	}

	mode, err := auth.ParseMode(c.Auth.Mode)
	if err != nil {
		errs = append(errs, err)
	}
	if mode == auth.ModeJWT && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required in jwt mode"))
	}
	if c.Auth.JWTLeeway < 0 {
		errs = append(errs, errors.New("auth.jwt_leeway must not be negative"))
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// AuthorizerConfig converts the auth section for auth.New.
func (c *Config) AuthorizerConfig() auth.Config {
	return auth.Config{
		Mode:         c.Auth.Mode,
		SharedSecret: c.Auth.SharedSecret,
		JWTSecret:    c.Auth.JWTSecret,
		JWTLeeway:    c.Auth.JWTLeeway,
		Require:      c.Auth.Require,
	}
}

// PublisherConfig converts the broker section for broker.New.
func (c *Config) PublisherConfig() broker.Config {
	return broker.Config{
		Kind:         c.Broker.Kind,
		RedisURL:     c.Broker.RedisURL,
		PoolSize:     c.Broker.PoolSize,
		PoolTimeout:  c.Broker.PoolTimeout,
		Channel:      c.Broker.Channel,
		GCPProjectID: c.Broker.GCPProjectID,
		RequirePing:  c.Broker.RequirePing,
	}
}
