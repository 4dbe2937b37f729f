// Package server provides the HTTP server for the placement service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sliceorch/placement/internal/config"
	"github.com/sliceorch/placement/internal/repository/etcd"
	"github.com/sliceorch/placement/internal/repository/postgres"
	"github.com/sliceorch/placement/internal/repository/redis"
	"github.com/sliceorch/placement/internal/server/middleware"
	metricsservice "github.com/sliceorch/placement/internal/services/metrics"
	placementservice "github.com/sliceorch/placement/internal/services/placement"
)

// Version is the API version reported by /api/v1/info.
const Version = "0.1.0"

// Task is a background job that runs alongside the HTTP server until its
// context is cancelled.
type Task func(ctx context.Context) error

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// Services
	placement *placementservice.Service
	metrics   *metricsservice.Service

	registry *prometheus.Registry
	events   EventStream
	tasks    []Task

	// stopStreams ends open event streams on shutdown.
	stopStreams chan struct{}
	stopOnce    sync.Once
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL reports PostgreSQL readiness and closes it on shutdown.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis reports Redis readiness and closes it on shutdown.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd reports etcd readiness and closes it on shutdown.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithMetricsService serves sample ingestion.
func WithMetricsService(svc *metricsservice.Service) ServerOption {
	return func(s *Server) {
		s.metrics = svc
	}
}

// WithRegistry exposes the registry on /metrics.
func WithRegistry(registry *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithEventStream serves placement decisions on /api/v1/placement/events.
func WithEventStream(stream EventStream) ServerOption {
	return func(s *Server) {
		s.events = stream
	}
}

// WithTask runs task for the lifetime of the server.
func WithTask(task Task) ServerOption {
	return func(s *Server) {
		s.tasks = append(s.tasks, task)
	}
}

// New creates a new server instance.
func New(cfg *config.Config, placement *placementservice.Service, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:      cfg,
		logger:      logger,
		mux:         mux,
		placement:   placement,
		stopStreams: make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// Health check endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	// API info endpoint
	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	// Placement API
	NewPlacementHandler(s.placement, s.metrics, s.logger).RegisterRoutes(s.mux)
	if s.events != nil {
		s.mux.HandleFunc("/api/v1/placement/events", s.eventsHandler)
	}

	if s.registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(s.logger),
		}))
	}

	s.logger.Info("Routes registered",
		zap.Bool("ingestion", s.metrics != nil),
		zap.Bool("event_stream", s.events != nil),
		zap.Bool("prometheus", s.registry != nil),
		zap.Bool("auth", s.config.Auth.Enabled),
	)
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	if s.config.Auth.Enabled {
		auth := middleware.NewAuth(s.config.Auth.JWTSecret, s.config.Auth.Issuer, s.logger)
		handler = auth.Handler(handler)
	}

	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	// Apply middleware
	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", "/metrics":
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "slice-placement",
	})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	details := map[string]string{}
	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			s.logger.Warn("Readiness check failed", zap.String("component", name), zap.Error(err))
			return
		}
		details[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"components": details,
	})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	zones := make([]string, 0)
	for _, z := range s.placement.Zones() {
		zones = append(zones, z.Name)
	}
	sort.Strings(zones)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "Slice Placement Service",
		"version":        Version,
		"api_version":    "v1",
		"metrics_source": s.config.Metrics.Source,
		"zones":          zones,
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and background tasks and blocks until ctx is
// cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
		zap.Int("tasks", len(s.tasks)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	for _, task := range s.tasks {
		g.Go(func() error {
			return task(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.logger.Info("Shutdown signal received")
		}
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	s.stopOnce.Do(func() { close(s.stopStreams) })

	// Close HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
