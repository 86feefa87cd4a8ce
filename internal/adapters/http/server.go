// Package http provides the RPC surface over HTTP.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/tilework/internal/config"
	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/input"
)

// maxBodyBytes bounds request bodies. GeoJSON source data travels inline.
const maxBodyBytes = 64 << 20

// Services are the driving ports served over HTTP. Trimmer, Metrics and
// OnRelease are optional.
type Services struct {
	Dispatcher input.TileDispatcher
	Messages   input.MessageReader
	Databases  input.DatabaseOpener
	Trimmer    input.CacheTrimmer
	Health     input.HealthChecker

	Metrics           http.Handler
	MetricsPath       string
	MetricsMiddleware func(http.Handler) http.Handler

	OnRelease func(mapID domain.MapInstanceID)
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server   *http.Server
	router   *mux.Router
	handler  http.Handler
	services Services
	logger   *slog.Logger
	config   config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, services Services, logger *slog.Logger) *Server {
	s := &Server{
		services: services,
		logger:   logger,
		config:   cfg,
	}

	s.router = s.setupRoutes()
	s.handler = s.router
	// CORS wraps the router so that preflight requests reach it for every route.
	if s.config.CORS.Enabled() {
		s.handler = s.corsMiddleware(s.router)
	}

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.services.MetricsMiddleware != nil {
		r.Use(s.services.MetricsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	if s.services.Metrics != nil {
		path := s.services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.services.Metrics).Methods(http.MethodGet)
	}

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/maps/{mapId}/rpc/{operation}", s.handleRPC).Methods(http.MethodPost)
	api.HandleFunc("/maps/{mapId}/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/maps/{mapId}", s.handleRelease).Methods(http.MethodDelete)
	api.HandleFunc("/databases", s.handleOpenDatabase).Methods(http.MethodPost)

	if s.services.Trimmer != nil {
		api.HandleFunc("/cache/trim", s.handleTrim).Methods(http.MethodPost)
	}

	return r
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := slog.LevelDebug
		if wrapped.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
