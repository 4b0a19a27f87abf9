package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GooglePublisher publishes envelopes to Cloud Pub/Sub, using the channel name
// as the topic ID. Each Publish waits for the server acknowledgement so that
// failures reach the caller instead of being logged in the background.
type GooglePublisher struct {
	client     *pubsub.Client
	ownsClient bool
	logger     zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGooglePublisher creates a Pub/Sub client for cfg.GCPProjectID and verifies
// that the topic for cfg.Channel exists.
func NewGooglePublisher(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...option.ClientOption) (*GooglePublisher, error) {
	if cfg.GCPProjectID == "" {
		return nil, errors.New("gcp project id is required for the gcp_pubsub broker")
	}
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p, err := NewGooglePublisherWithClient(ctx, client, cfg.Channel, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.ownsClient = true
	return p, nil
}

// NewGooglePublisherWithClient wraps an existing client. The client is left
// open on Close.
func NewGooglePublisherWithClient(ctx context.Context, client *pubsub.Client, channel string, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	p := &GooglePublisher{
		client: client,
		logger: logger.With().Str("component", "GooglePublisher").Logger(),
		topics: make(map[string]*pubsub.Topic),
	}

	topic := p.topic(channel)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", channel, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", channel)
	}

	p.logger.Info().Str("topic_id", channel).Msg("Google Pub/Sub publisher initialized.")
	return p, nil
}

// topic returns the cached topic handle for channel, creating it on first use.
func (p *GooglePublisher) topic(channel string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[channel]; ok {
		return t
	}
	t := p.client.Topic(channel)
	// Telemetry is latency sensitive; send each message as soon as it is queued.
	t.PublishSettings.CountThreshold = 1
	t.PublishSettings.DelayThreshold = time.Millisecond
	p.topics[channel] = t
	return t
}

// Publish sends one message and blocks until Pub/Sub accepts or rejects it.
// Pub/Sub does not report subscriber counts, so the count is always 0.
func (p *GooglePublisher) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	res := p.topic(channel).Publish(ctx, &pubsub.Message{Data: payload})
	msgID, err := res.Get(ctx)
	if err != nil {
		return 0, classifyPubsubError(channel, err)
	}
	p.logger.Debug().Str("topic_id", channel).Str("published_msg_id", msgID).Msg("Published message.")
	return 0, nil
}

// Ping checks that every known topic still exists.
func (p *GooglePublisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	topics := make([]*pubsub.Topic, 0, len(p.topics))
	for _, t := range p.topics {
		topics = append(topics, t)
	}
	p.mu.Unlock()

	for _, t := range topics {
		exists, err := t.Exists(ctx)
		if err != nil {
			return classifyPubsubError(t.ID(), err)
		}
		if !exists {
			return fmt.Errorf("%w: pubsub topic %s does not exist", ErrUnavailable, t.ID())
		}
	}
	return nil
}

// Backend returns KindGooglePubsub.
func (p *GooglePublisher) Backend() Kind { return KindGooglePubsub }

// Close flushes and stops every topic, then closes the client if owned.
func (p *GooglePublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()

	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

func classifyPubsubError(channel string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: topic %q: %w", ErrUnavailable, channel, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: topic %q: %w", ErrUnavailable, channel, err)
	}
	return fmt.Errorf("%w: topic %q: %w", ErrPublish, channel, err)
}
