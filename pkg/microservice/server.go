// Package microservice provides the HTTP server shell shared by the relay's
// entry points: routing, probes, metrics exposure and graceful lifecycle.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// readinessTimeout bounds a single /readyz probe.
const readinessTimeout = 2 * time.Second

// ServerConfig holds the listener and middleware settings.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimitRequests per RateLimitWindow per client IP on ingestion routes.
	// Zero disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// BaseServer owns the router and the http.Server wrapped around it.
type BaseServer struct {
	Logger     zerolog.Logger
	ListenAddr string
	httpServer *http.Server
	router     chi.Router
	rateLimit  func(http.Handler) http.Handler
	actualAddr string
	ready      ReadinessCheck
	mu         sync.RWMutex
}

// NewBaseServer creates a server with the common middleware stack and the
// /healthz, /readyz and /metrics routes already registered.
func NewBaseServer(logger zerolog.Logger, cfg ServerConfig) *BaseServer {
	s := &BaseServer{
		Logger:     logger.With().Str("component", "HTTPServer").Logger(),
		ListenAddr: cfg.ListenAddr,
		rateLimit:  RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}

	r := chi.NewRouter()
	r.Use(RequestID(logger))
	r.Use(AccessLog)
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}
	r.Use(Instrument)

	r.Get("/healthz", HealthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// HandleIngest registers a POST route behind the per-client rate limiter.
func (s *BaseServer) HandleIngest(pattern string, h http.Handler) {
	s.router.With(s.rateLimit).Method(http.MethodPost, pattern, h)
}

// SetReadinessCheck installs the check consulted by /readyz.
func (s *BaseServer) SetReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = check
}

// Router exposes the underlying router for additional routes and tests.
func (s *BaseServer) Router() chi.Router {
	return s.router
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned to the caller.
func (s *BaseServer) Start() error {
	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.Logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns ":<port>" for the bound listener, or the configured
// address before Start.
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.ListenAddr
	}
	return ":" + port
}

// HealthzHandler answers liveness probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readinessResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *BaseServer) readyzHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	check := s.ready
	s.mu.RUnlock()

	resp := readinessResponse{Status: "ready"}
	status := http.StatusOK
	if check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := check(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed.")
			resp = readinessResponse{Status: "unavailable", Error: err.Error()}
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
