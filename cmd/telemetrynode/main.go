// Command telemetrynode accepts location reports from field devices over HTTP
// and relays each one to the live-map broker channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-telemetry-relay/pkg/auth"
	"github.com/illmade-knight/go-telemetry-relay/pkg/broker"
	"github.com/illmade-knight/go-telemetry-relay/pkg/config"
	"github.com/illmade-knight/go-telemetry-relay/pkg/ingest"
	"github.com/illmade-knight/go-telemetry-relay/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Telemetry node failed")
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("telemetrynode", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("CONFIG_PATH"), "path to an optional YAML config file")
	listen := flags.String("listen", "", "listen address, overrides server.listen_addr")
	logLevel := flags.String("log-level", "", "log level, overrides logging.level")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	overrides := map[string]interface{}{}
	if *listen != "" {
		overrides["server.listen_addr"] = *listen
	}
	if *logLevel != "" {
		overrides["logging.level"] = *logLevel
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer node.close()

	if err := node.server.Start(); err != nil {
		return err
	}
	logger.Info().
		Str("path", cfg.Server.TelemetryPath).
		Str("broker", cfg.Broker.Kind).
		Str("channel", cfg.Broker.Channel).
		Str("auth_mode", string(node.authorizer.Mode())).
		Msg("Telemetry node running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return node.server.Shutdown(shutdownCtx)
}

// node is the assembled service: one authorizer, one publisher and the server
// routing requests to the ingestion handler.
type node struct {
	server     *microservice.BaseServer
	publisher  broker.Publisher
	authorizer auth.Authorizer
	logger     zerolog.Logger
}

func newNode(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*node, error) {
	authorizer, err := auth.New(cfg.AuthorizerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authorization: %w", err)
	}

	publisher, err := broker.New(ctx, cfg.PublisherConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker publisher: %w", err)
	}

	handler, err := ingest.NewHandler(ingest.Dependencies{
		Authorizer:   authorizer,
		Publisher:    publisher,
		Channel:      cfg.Broker.Channel,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create ingest handler: %w", err)
	}

	server := microservice.NewBaseServer(logger, microservice.ServerConfig{
		ListenAddr:        cfg.Server.ListenAddr,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		CORSOrigins:       cfg.Server.CORSOrigins,
	})
	server.HandleIngest(cfg.Server.TelemetryPath, handler)
	server.SetReadinessCheck(publisher.Ping)

	return &node{
		server:     server,
		publisher:  publisher,
		authorizer: authorizer,
		logger:     logger,
	}, nil
}

func (n *node) close() {
	if err := n.publisher.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Failed to close broker publisher.")
	}
}

// newLogger builds the root logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "telemetrynode").Logger(), nil
}
