package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/internal/application/worker"
	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

// Worker is the supervised worker the API reports on and delivers to
type Worker interface {
	Status() worker.Status
	Deliver(ctx context.Context, job *domain.Job) error
}

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	worker  Worker
	tracker ports.TrackerAdmin
	logger  *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Worker Worker
	// Tracker enables the read-only tracker routes when set
	Tracker  ports.TrackerAdmin
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		worker:  cfg.Worker,
		tracker: cfg.Tracker,
		logger:  cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/worker", s.handleGetWorker)
		v1.POST("/worker/jobs", s.handleSubmitJob)

		v1.GET("/tracker/workers", s.handleListWorkers)
		v1.GET("/tracker/updates", s.handleListUpdates)
	}
}

// SetupWebSocket mounts the bus stream handler
func (s *Server) SetupWebSocket(handler interface {
	HandleStream(*gin.Context)
}) {
	s.router.GET("/api/v1/worker/ws", handler.HandleStream)
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

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

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// scrapes and probes are too frequent for info level
		log := logger.Info
		if path == "/metrics" || path == "/health" {
			log = logger.Debug
		}
		log("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
