package ingest

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-telemetry-relay/pkg/broker"
	"github.com/illmade-knight/go-telemetry-relay/pkg/metrics"
)

// Kind classifies a failed ingestion. Each kind maps to one status and code.
type Kind int

const (
	// KindInternal covers failures that are the relay's own fault.
	KindInternal Kind = iota
	// KindUnauthorized means the caller's credential was missing or invalid.
	KindUnauthorized
	// KindInvalidPayload means the body was not an acceptable telemetry report.
	KindInvalidPayload
	// KindBroker means the publish attempt failed; the message was dropped.
	KindBroker
)

// Error is the single error type returned by the ingestion pipeline.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the machine-readable error code sent to clients.
func (e *Error) Code() string {
	switch e.Kind {
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindBroker:
		return "broker_error"
	default:
		return "internal_error"
	}
}

// Status is the HTTP status sent to clients. Broker failures caused by the
// broker being unreachable in time are 503; other broker failures are 500.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidPayload:
		return http.StatusBadRequest
	case KindBroker:
		if errors.Is(e.Err, broker.ErrUnavailable) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) outcome() string {
	switch e.Kind {
	case KindUnauthorized:
		return metrics.OutcomeUnauthorized
	case KindInvalidPayload:
		return metrics.OutcomeInvalidPayload
	case KindBroker:
		return metrics.OutcomeBrokerError
	default:
		return metrics.OutcomeInternalError
	}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// asError converts any error into an *Error, treating unknown errors as internal.
func asError(err error) *Error {
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		return ingestErr
	}
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

func writeError(w http.ResponseWriter, e *Error) {
	if e.Kind == KindUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="telemetry"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: e.Code(), Message: e.Message})
}
