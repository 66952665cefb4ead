package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/health"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
)

// Server exposes the metrics registry over HTTP.
//
// Endpoints:
//   - GET /metrics: Prometheus scrape endpoint
//   - GET /health: Liveness probe
//
// The server supports graceful shutdown when its context is cancelled.
type Server struct {
	server       *http.Server
	port         int
	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer creates the metrics HTTP server for the given registry.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests.
func NewServer(port int, registry *prometheus.Registry) *Server {
	s := &Server{
		port:      port,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routes the server responds to.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(s.startedAt)

	resp := health.Response{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	resp.Data.Service = "mediabackups"
	resp.Data.StartedAt = s.startedAt.UTC().Format(time.RFC3339)
	resp.Data.Uptime = uptime.Round(time.Second).String()
	resp.Data.UptimeSec = int64(uptime.Seconds())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to write health response", logger.Err(err))
	}
}

// Start starts the metrics server and blocks until the context is
// cancelled or the listener fails.
//
// When the context is cancelled, Start initiates graceful shutdown and
// returns.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		// Don't reuse the cancelled ctx; it would abort the shutdown
		// before in-flight scrapes finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the metrics server.
//
// Stop is safe to call multiple times and safe to call concurrently
// with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
		} else {
			logger.Info("metrics server stopped")
		}
	})
	return shutdownErr
}
