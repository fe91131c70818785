package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

// DefaultMaxBatchSize caps records accepted by one execution request.
const DefaultMaxBatchSize = 10000

// HistoryStore is the stored run history the API reads when a run is no longer in memory.
type HistoryStore interface {
	GetOrchestration(ctx context.Context, id string) (*engine.OrchestrationResult, error)
	ListOrchestrations(ctx context.Context, limit, offset int) ([]*stores.RunSummary, error)
	HealthCheck(ctx context.Context) error
}

// HealthChecker reports the health of an optional dependency such as Redis.
type HealthChecker func(ctx context.Context) error

// Config holds HTTP server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBatchSize int

	Orchestrator *engine.Orchestrator

	// Store, Events and Metrics are optional.
	Store   HistoryStore
	Events  *telemetry.EventPublisher
	Metrics *telemetry.Metrics

	// HealthChecks are reported under /health by name.
	HealthChecks map[string]HealthChecker

	Logger *telemetry.Logger
}

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	orch     *engine.Orchestrator
	store    HistoryStore
	events   *telemetry.EventPublisher
	metrics  *telemetry.Metrics
	checks   map[string]HealthChecker
	maxBatch int
	logger   *telemetry.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	s := &Server{
		router:   router,
		orch:     cfg.Orchestrator,
		store:    cfg.Store,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		checks:   cfg.HealthChecks,
		maxBatch: cfg.MaxBatchSize,
		logger:   logger.NewComponentLogger("api"),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/strategies", s.handleListStrategies)
		v1.GET("/strategies/stats", s.handleStrategyStats)

		v1.POST("/plans", s.handleBuildPlan)

		v1.POST("/executions", s.handleExecute)
		v1.GET("/executions", s.handleListExecutions)
		v1.GET("/executions/:id", s.handleGetExecution)

		v1.GET("/status", s.handleStatus)
		v1.GET("/migration-report", s.handleMigrationReport)

		v1.GET("/events/ws", s.handleEventStream)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.WithFields(map[string]interface{}{
			"method":    c.Request.Method,
			"path":      path,
			"query":     query,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"client_ip": c.ClientIP(),
		}).Debug("HTTP request")
	}
}
