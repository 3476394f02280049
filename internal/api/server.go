package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/config"
	"example.com/pharmatrace/services/provenance/internal/api/handlers"
	"example.com/pharmatrace/services/provenance/internal/cache"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// Services bundles the service layer the HTTP surface exposes
type Services struct {
	Batch        *services.BatchService
	Bottle       *services.BottleService
	Verification *services.VerificationService
	Claim        *services.ClaimService
	Reset        *services.ResetService
	Analytics    *services.AnalyticsService
	Export       *services.ExportService
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
	cache      *cache.RedisCache
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svcs Services, redisCache *cache.RedisCache, metricsCollector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:   cfg,
		services: svcs,
		cache:    redisCache,
		metrics:  metricsCollector,
		tracer:   tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(RequestMetrics(s.metrics))
	router.Use(Tracing(s.tracer))

	// Scans are rate limited per scanner; state-changing consumer calls are
	// deduplicated by Idempotency-Key
	verifyGroup := router.Group("/", ScanRateLimit(s.cache, s.config.Scan.RateLimit, s.config.Scan.RateWindow))
	mutateGroup := router.Group("/", Idempotency(s.cache, s.config.Scan.IdempotencyTTL))

	batchHandler := handlers.NewBatchHandler(s.services.Batch, s.services.Export, s.tracer)
	batchHandler.RegisterRoutes(router)

	bottleHandler := handlers.NewBottleHandler(s.services.Bottle, s.services.Claim, s.tracer)
	bottleHandler.RegisterGetRoutes(router)
	bottleHandler.RegisterMutateRoutes(mutateGroup)

	verifyHandler := handlers.NewVerifyHandler(s.services.Verification, s.tracer)
	verifyHandler.RegisterRoutes(verifyGroup)

	resetHandler := handlers.NewResetHandler(s.services.Reset, s.tracer)
	resetHandler.RegisterRoutes(mutateGroup)

	analyticsHandler := handlers.NewAnalyticsHandler(s.services.Analytics, s.tracer)
	analyticsHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
