package ingest

import "github.com/illmade-knight/go-telemetry-relay/pkg/telemetry"

// SetMarshal replaces the envelope serializer so tests can force a failure.
func SetMarshal(h *Handler, marshal func(telemetry.Envelope) ([]byte, error)) {
	h.marshal = marshal
}
