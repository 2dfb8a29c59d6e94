package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/expirytrack/collector/internal/config"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/rategate"
)

// RunService is the scheduler surface the API drives.
type RunService interface {
	StartRun(ctx context.Context, sel model.Selection, opts model.RunOptions) (model.Run, error)
	Progress(ctx context.Context, runID uuid.UUID) (model.RunProgress, error)
	FailedUnits(ctx context.Context, runID uuid.UUID) ([]model.Unit, error)
	Cancel(ctx context.Context, runID uuid.UUID) error
	ResumeIncomplete(ctx context.Context) ([]model.Run, error)
}

// GateStats exposes the rate limiter snapshot for the dashboard endpoint.
type GateStats interface {
	Snapshot() rategate.Stats
}

// Server is the control API HTTP server.
type Server struct {
	cfg    config.ServerConfig
	runs   RunService
	gate   GateStats
	logger *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New creates a Server.
func New(cfg config.ServerConfig, runs RunService, gate GateStats, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		runs:   runs,
		gate:   gate,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("control api started", "port", s.cfg.Port)
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.logger.Info("control api stopped")
	return err
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Post("/runs/resume", s.handleResume)
		r.Get("/runs/{id}/progress", s.handleProgress)
		r.Get("/runs/{id}/failures", s.handleFailures)
		r.Post("/runs/{id}/cancel", s.handleCancel)
		r.Get("/runs/{id}/events", s.handleEvents)
		r.Get("/ratelimit", s.handleRateLimit)
	})

	return r
}
