// Package server implements the fuseg HTTP API.
//
// Routes:
//
//	POST /v1/segment              segment an uploaded graph
//	GET  /v1/segments/{hash}      latest archived segmentation of a graph
//	GET  /v1/runs/{id}            archived segmentation by run ID
//	GET  /healthz                 liveness and build information
//	GET  /metrics                 Prometheus metrics, when enabled
package server

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/fuseg/pkg/pipeline"
	"github.com/matzehuels/fuseg/pkg/store"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"

	// DefaultMaxBodyBytes bounds uploaded graph documents.
	DefaultMaxBodyBytes = 32 << 20

	// DefaultRequestTimeout bounds one request, segmentation included.
	DefaultRequestTimeout = 2 * time.Minute

	shutdownTimeout = 10 * time.Second
)

// Config configures a [Server].
type Config struct {
	Addr           string
	MaxBodyBytes   int64
	RequestTimeout time.Duration

	// RecordTTL is how long archived segmentations are kept.
	RecordTTL time.Duration

	// Options are the base segmentation options; requests may override the
	// serializable fields.
	Options pipeline.Options

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = store.DefaultTTL
	}
}

// Server serves the HTTP API.
type Server struct {
	runner *pipeline.Runner
	store  store.Store
	logger *log.Logger
	cfg    Config
}

// New creates a server. A nil logger discards log output.
func New(runner *pipeline.Runner, st store.Store, logger *log.Logger, cfg Config) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{runner: runner, store: st, logger: logger, cfg: cfg}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Post("/segment", s.handleSegment)
		r.Get("/segments/{hash}", s.handleLatest)
		r.Get("/runs/{id}", s.handleRun)
	})
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
