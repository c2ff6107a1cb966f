// Package api serves the imagery HTTP interface: uploads, transformations,
// statistics and signed file downloads.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// CorrelationHeader carries the correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// healthTimeout bounds a /health probe.
const healthTimeout = 2 * time.Second

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig listens on :8080. The write timeout leaves room for
// large transformations.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the HTTP front end.
type Server struct {
	http    *http.Server
	logger  *slog.Logger
	metrics observability.Metrics
	health  *observability.HealthRegistry
}

// NewServer wires the routes of handler. health, logger and metrics may be
// nil. When metrics can report a snapshot it is served on GET /metrics.
func NewServer(cfg ServerConfig, handler *ImageHandler, health *observability.HealthRegistry, logger *slog.Logger, metrics observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	s := &Server{logger: logger, metrics: metrics, health: health}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.instrument(s.routes(handler)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes(h *ImageHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if snap, ok := s.metrics.(observability.Snapshotter); ok {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, snap.Snapshot())
		})
	}

	mux.HandleFunc("POST /api/v1/images", h.Upload)
	mux.HandleFunc("POST /api/v1/images/transform", h.Transform)
	mux.HandleFunc("GET /api/v1/images/rank", h.Rank)
	mux.HandleFunc("GET /api/v1/images/latest-transformations", h.LatestTransformations)
	mux.HandleFunc("GET /api/v1/images/{id}/url", h.URL)
	mux.HandleFunc("GET /api/v1/transformations/by-type", h.TransformationsByType)

	mux.HandleFunc("GET /files/{location...}", h.File)
	return mux
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// instrument puts correlation and request ids on the request context, echoes
// the correlation id and counts the response status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get(CorrelationHeader))
		w.Header().Set(CorrelationHeader, observability.CorrelationIDFromContext(ctx))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.metrics.Counter(observability.MetricHTTPRequests, 1,
			observability.T("method", r.Method),
			observability.T("status", strconv.Itoa(sw.status)),
		)
		s.logger.DebugContext(ctx, "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			observability.StatusKey, sw.status,
			observability.DurationKey, time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, observability.OverallHealth{
			Status:    observability.HealthStatusHealthy,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	report := s.health.GetOverallHealth(ctx)

	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.http.Shutdown(ctx)
}
