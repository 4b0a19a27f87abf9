// Package metrics holds the Prometheus instruments for the relay.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes, one per error kind plus success.
const (
	OutcomeOK             = "ok"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeBrokerError    = "broker_error"
	OutcomeInternalError  = "internal_error"
)

var (
	// IngestRequestsTotal counts telemetry requests by outcome.
	IngestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_ingest_requests_total",
			Help: "Total number of telemetry ingestion requests by outcome",
		},
		[]string{"outcome"},
	)

	// PublishDuration observes how long each publish attempt took, including pool wait.
	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_publish_duration_seconds",
			Help:    "Duration of broker publish attempts in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "result"},
	)

	// PublishReceivers observes the subscriber count reported per publish.
	PublishReceivers = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_publish_receivers",
			Help:    "Number of subscribers that received each published envelope",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	// HTTPRequestsTotal counts HTTP requests by route pattern.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration observes HTTP latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordIngest increments the outcome counter.
func RecordIngest(outcome string) {
	IngestRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordPublish observes a publish attempt.
func RecordPublish(backend string, start time.Time, receivers int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PublishDuration.WithLabelValues(backend, result).Observe(time.Since(start).Seconds())
	if err == nil {
		PublishReceivers.Observe(float64(receivers))
	}
}

// RecordHTTPRequest records an HTTP request against its route pattern.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
