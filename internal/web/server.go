// Package web serves the collector API probes talk to.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jandubois/mon/internal/config"
	"github.com/jandubois/mon/internal/db"
	"github.com/jandubois/mon/internal/ingest"
	"github.com/jandubois/mon/internal/metrics"
	"github.com/jandubois/mon/internal/status"
)

// Server is the collector backend.
type Server struct {
	db       *db.DB
	levels   *status.Levels
	pipeline *ingest.Pipeline
	server   *http.Server
}

// NewServer creates a collector server. Status levels are read from the
// database once; notifier may be nil.
func NewServer(ctx context.Context, database *db.DB, cfg *config.ServerConfig, notifier ingest.Notifier) (*Server, error) {
	levels, err := database.LoadLevels(ctx)
	if err != nil {
		return nil, err
	}
	engine := status.NewEngine(status.NewMatcher(levels), nil)

	s := &Server{
		db:       database,
		levels:   levels,
		pipeline: ingest.NewPipeline(database, engine, notifier),
	}
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Run starts the server and shuts it down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("collector listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down collector")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("PUT /api/v1/probe", s.handleRegister)
	mux.HandleFunc("GET /api/v1/services/{probe}", s.handleMappings)
	mux.HandleFunc("PUT /api/v1/readings/{probe}", s.handleReadings)
	mux.HandleFunc("GET /api/v1/thresholds/{probe}/{service}", s.handleGetThresholds)
	mux.HandleFunc("PUT /api/v1/thresholds/{probe}/{service}", s.handlePutThresholds)

	return withRequestLogging(mux)
}
