// Package server exposes the proxy and the quality endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agleyzer/qualityfix/internal/notify"
	"github.com/agleyzer/qualityfix/internal/selection"
)

// StatsFunc reports component statistics for the health endpoint.
type StatsFunc func() map[string]interface{}

// Server serves proxied manifests and quality state
type Server struct {
	proxy      http.Handler
	state      selection.Reader
	badge      *notify.Badge
	watcher    *notify.Watcher
	stats      map[string]StatsFunc
	port       int
	logger     *slog.Logger
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithBadge exposes badge state at /quality.
func WithBadge(b *notify.Badge) Option {
	return func(s *Server) { s.badge = b }
}

// WithWatcher enables POST /quality/replay.
func WithWatcher(w *notify.Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// WithStats adds a named stats section to /health.
func WithStats(name string, fn StatsFunc) Option {
	return func(s *Server) { s.stats[name] = fn }
}

// New creates a new HTTP server
func New(proxy http.Handler, state selection.Reader, port int, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		proxy:  proxy,
		state:  state,
		stats:  make(map[string]StatsFunc),
		port:   port,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/quality", s.handleQuality)
	mux.HandleFunc("/quality/replay", s.handleReplay)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.proxy)

	return s.loggingMiddleware(mux)
}

// Start runs the HTTP server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(s.stats))
	for name, fn := range s.stats {
		stats[name] = fn()
	}

	health := map[string]interface{}{
		"status":    "ok",
		"selection": s.state.Get(),
		"stats":     stats,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleQuality serves the current selection and badge state
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"selection": s.state.Get(),
	}
	if s.badge != nil {
		resp["badge"] = s.badge.State()
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, resp)
}

// handleReplay re-displays the last label when a player becomes ready
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	label := ""
	if s.watcher != nil {
		label = s.watcher.Ready()
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"replayed": label != "",
		"label":    label,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed proxy responses through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
