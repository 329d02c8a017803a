package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/cotask/internal/scheduler"
	"github.com/me/cotask/internal/store"
)

// ProgressSource exposes the live state of a draining executor.
type ProgressSource interface {
	Snapshot() scheduler.Snapshot
}

// Server is the cotask status API: it serves the run journal and, when a
// plan is draining in the same process, its live progress.
type Server struct {
	router       chi.Router
	logger       *slog.Logger
	version      string
	startTime    time.Time
	store        store.Store
	progress     ProgressSource
	pollInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithProgress sets the executor whose snapshots back /progress.
func WithProgress(src ProgressSource) Option {
	return func(s *Server) {
		s.progress = src
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithPollInterval sets how often the progress stream samples the executor.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a new Server with all routes registered.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger.With("component", "server"),
		version:      "dev",
		startTime:    time.Now(),
		store:        st,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		// Live executor view
		r.Get("/progress", s.handleProgress)
		r.Get("/sse/progress", s.handleSSEProgress)

		// Run journal
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Delete("/", s.handlePruneRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/tasks", s.handleListRunTasks)
			})
		})
	})
}
