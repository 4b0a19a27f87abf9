package telemetry

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope is the message published for map consumers. It is built per request
// from an already validated Report and discarded after the publish attempt.
type Envelope struct {
	Event string `json:"event"`
	Data  Report `json:"data"`
}

// NewEnvelope wraps a validated report with the fixed event name.
func NewEnvelope(r Report) Envelope {
	return Envelope{Event: EventName, Data: r}
}

// Marshal serializes the envelope to the JSON text published on the channel.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}
