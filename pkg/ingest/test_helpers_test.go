package ingest_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-telemetry-relay/pkg/broker"
)

// publishCall records one Publish invocation.
type publishCall struct {
	Channel string
	Payload []byte
}

// MockPublisher is a broker test double that records every publish attempt.
type MockPublisher struct {
	mu        sync.Mutex
	calls     []publishCall
	receivers int64
	err       error
	pingErr   error
}

func (m *MockPublisher) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.calls = append(m.calls, publishCall{Channel: channel, Payload: cp})
	if m.err != nil {
		return 0, m.err
	}
	return m.receivers, nil
}

func (m *MockPublisher) Ping(_ context.Context) error { return m.pingErr }

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Backend() broker.Kind { return "mock" }

// SetError configures the error returned by Publish.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetCalls returns a copy of the recorded calls.
func (m *MockPublisher) GetCalls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	callsCopy := make([]publishCall, len(m.calls))
	copy(callsCopy, m.calls)
	return callsCopy
}
