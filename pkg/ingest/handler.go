// Package ingest implements the telemetry ingestion endpoint: authorize the
// caller, validate the report, wrap it in an envelope and publish it once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/illmade-knight/go-telemetry-relay/pkg/auth"
	"github.com/illmade-knight/go-telemetry-relay/pkg/broker"
	"github.com/illmade-knight/go-telemetry-relay/pkg/metrics"
	"github.com/illmade-knight/go-telemetry-relay/pkg/telemetry"
	"github.com/rs/zerolog"
)

// DefaultMaxBodyBytes bounds how much of a request body is read.
const DefaultMaxBodyBytes int64 = 64 << 10

// Dependencies is everything the handler needs, built once at startup and
// shared read-only by all requests.
type Dependencies struct {
	Authorizer   auth.Authorizer
	Publisher    broker.Publisher
	Channel      string
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

// Handler serves POST requests carrying a single telemetry report.
type Handler struct {
	authorizer auth.Authorizer
	publisher  broker.Publisher
	channel    string
	maxBody    int64
	logger     zerolog.Logger
	marshal    func(telemetry.Envelope) ([]byte, error)
}

// NewHandler validates deps and returns a ready handler.
func NewHandler(deps Dependencies) (*Handler, error) {
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer cannot be nil")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if deps.Channel == "" {
		deps.Channel = telemetry.DefaultChannel
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &Handler{
		authorizer: deps.Authorizer,
		publisher:  deps.Publisher,
		channel:    deps.Channel,
		maxBody:    deps.MaxBodyBytes,
		logger:     deps.Logger.With().Str("component", "IngestHandler").Logger(),
		marshal:    telemetry.Envelope.Marshal,
	}, nil
}

// ServeHTTP runs the pipeline and converts its outcome into a response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r.Context())

	err := h.handle(w, r, logger)
	if err != nil {
		ingestErr := asError(err)
		metrics.RecordIngest(ingestErr.outcome())

		event := logger.Warn()
		if ingestErr.Kind == KindBroker || ingestErr.Kind == KindInternal {
			event = logger.Error()
		}
		event.Err(ingestErr.Err).Str("error_code", ingestErr.Code()).Int("status", ingestErr.Status()).Msg(ingestErr.Message)

		writeError(w, ingestErr)
		return
	}

	metrics.RecordIngest(metrics.OutcomeOK)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handle is the ingestion pipeline. Each step runs only if the previous one
// succeeded, so rejected requests never reach the broker.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) error {
	ctx := r.Context()

	// 1. Authorization, before the body is read.
	principal, err := h.authorizer.Authorize(ctx, r)
	if err != nil {
		return &Error{Kind: KindUnauthorized, Message: "Unauthorized", Err: err}
	}

	// 2. Payload validation.
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	report, err := telemetry.DecodeReport(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &Error{Kind: KindInvalidPayload, Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), Err: err}
		}
		return &Error{Kind: KindInvalidPayload, Message: err.Error(), Err: err}
	}

	// 3. Envelope construction and serialization.
	payload, err := h.marshal(telemetry.NewEnvelope(report))
	if err != nil {
		return &Error{Kind: KindInternal, Message: "failed to serialize envelope", Err: err}
	}

	// 4. A single publish attempt; no retry and no local buffering.
	start := time.Now()
	receivers, err := h.publisher.Publish(ctx, h.channel, payload)
	metrics.RecordPublish(string(h.publisher.Backend()), start, receivers, err)
	if err != nil {
		msg := "failed to publish telemetry"
		if errors.Is(err, broker.ErrUnavailable) {
			msg = "broker unavailable"
		}
		return &Error{Kind: KindBroker, Message: msg, Err: err}
	}

	logger.Debug().
		Str("user_id", report.UserID).
		Str("auth_mode", string(principal.Mode)).
		Str("subject", principal.Subject).
		Str("channel", h.channel).
		Int64("receivers", receivers).
		Msg("Telemetry forwarded.")
	return nil
}

// requestLogger prefers the request-scoped logger installed by middleware.
func (h *Handler) requestLogger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", "IngestHandler").Logger()
	}
	return h.logger
}
