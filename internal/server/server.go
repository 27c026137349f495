// Package server exposes the mind, the ledger and the live event stream over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/metrics"
	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Runner starts pipeline runs and reports their status. *pipeline.Engine
// implements it.
type Runner interface {
	StartRun(ctx context.Context) (string, error)
	Status() pipeline.Status
}

// Config holds server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // keep zero when serving live streams
	IdleTimeout  time.Duration
	CORSOrigins  []string
	MindTail     int // ledger entries returned by /api/mind when ?tail is absent
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8083",
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		CORSOrigins: []string{"*"},
		MindTail:    50,
	}
}

// Server is the Mirror HTTP API.
type Server struct {
	cfg     Config
	store   *mind.Store
	runner  Runner
	hub     *live.Hub
	metrics *metrics.Registry
	logger  zerolog.Logger
	router  *mux.Router
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger.With().Str("component", "http").Logger() }
}

// New creates a server. runner may be nil for a read-only server, in which
// case POST /api/runs answers 503.
func New(cfg Config, store *mind.Store, runner Runner, hub *live.Hub, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("mind store is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("live hub is required")
	}
	if cfg.MindTail <= 0 {
		cfg.MindTail = DefaultConfig().MindTail
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		runner: runner,
		hub:    hub,
		logger: zerolog.Nop(),
		router: mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/mind", s.handleMind).Methods(http.MethodGet)
	api.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	api.HandleFunc("/ledger/verify", s.handleVerify).Methods(http.MethodGet)
	api.HandleFunc("/ledger/{ref}", s.handleEntry).Methods(http.MethodGet)
	api.HandleFunc("/forecasts", s.handleForecasts).Methods(http.MethodGet)
	api.HandleFunc("/forecasts/{id}", s.handleForecast).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/live", s.handleSSE).Methods(http.MethodGet)
	api.HandleFunc("/live/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})
}

// Handler returns the full handler chain. CORS wraps the router so preflight
// requests are answered before route matching.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Live streams never finish on their own, so drop their subscriptions first.
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
