package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/handlers/health"
	"github.com/bfd-etl/pipeline/pkg/handlers/runs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
	"github.com/bfd-etl/pipeline/pkg/logger"
	"github.com/bfd-etl/pipeline/pkg/middleware"
)

// Scheduler is the part of the job manager the server reports on
type Scheduler interface {
	health.StatusSource
	runs.RunSource
}

// Deps are the components the operations server exposes
type Deps struct {
	Scheduler Scheduler
	Store     record.Store
	// Metrics serves /metrics when set
	Metrics http.Handler
}

// Server represents the operations server
type Server struct {
	router     *http.ServeMux
	addr       string
	logger     *logger.Logger
	httpServer *http.Server
	metrics    http.Handler
	handlers   struct {
		health *health.Handler
		runs   *runs.Handler
	}
}

// New creates a new server instance listening on addr
func New(addr string, deps Deps, log *logger.Logger) *Server {
	server := &Server{
		router:  http.NewServeMux(),
		addr:    addr,
		logger:  log,
		metrics: deps.Metrics,
	}

	server.handlers.health = health.NewHandler(deps.Scheduler, log)
	server.handlers.runs = runs.NewHandler(deps.Scheduler, deps.Store, log)

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// setupRoutes configures all the operations routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", middleware.RequestLog(s.logger, s.handlers.health.HealthCheck))

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.HandleFunc("/runs", middleware.RequestLog(s.logger, s.handlers.runs.List))
	s.router.HandleFunc("/records/pending", middleware.RequestLog(s.logger, s.handlers.runs.Pending))
	s.router.HandleFunc("/records/latest", middleware.RequestLog(s.logger, s.handlers.runs.Latest))

	s.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := fmt.Fprintf(w, "BFD Pipeline - OK"); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	})
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("addr", s.addr).
		Bool("metrics", s.metrics != nil).
		Msg("Starting operations server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "server failed to start on %s", s.addr)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down operations server")
	}
	s.logger.Info().
		Str("action", "server_stopped").
		Msg("Operations server stopped")
	return nil
}
