package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/pharmatrace/services/provenance/config"
	"example.com/pharmatrace/services/provenance/internal/api"
	"example.com/pharmatrace/services/provenance/internal/cache"
	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/search"
	"example.com/pharmatrace/services/provenance/internal/security"
	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for batch minting, scan verification, claims and resets`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	var searcher services.ScanSearcher
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	} else {
		searcher = elasticClient
	}

	// Scan events are published best-effort; the reconcile job covers a
	// missing or unreachable bus
	var publisher messaging.ServiceBusClient
	if cfg.Azure.QueueConnStr != "" {
		publisher, err = messaging.NewServiceBusClient(cfg.Azure)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, scan events will not be published")
			publisher = nil
		} else {
			defer publisher.Close()
		}
	} else {
		log.Warn().Msg("Azure Service Bus not configured, scan events will not be published")
	}

	metricsCollector := metrics.NewMetrics()
	crypto := security.New(cfg.Security.QRTokenSecret)
	if err := crypto.RequireSecret(); err != nil {
		log.Warn().Msg("QR_TOKEN_SECRET is not set, manifest export will be unavailable")
	}

	batchRepo := repositories.NewBatchRepository(db)
	bottleRepo := repositories.NewBottleRepository(db)
	scanRepo := repositories.NewScanLogRepository(db)
	resetRepo := repositories.NewResetRequestRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	svcs := api.Services{
		Batch:        services.NewBatchService(batchRepo, bottleRepo, crypto, redisCache, cfg.Mint.ChunkSize),
		Bottle:       services.NewBottleService(bottleRepo, crypto),
		Verification: services.NewVerificationService(bottleRepo, batchRepo, scanRepo, crypto, publisher),
		Claim:        services.NewClaimService(bottleRepo, crypto),
		Reset:        services.NewResetService(resetRepo, bottleRepo, auditRepo),
		Analytics:    services.NewAnalyticsService(batchRepo, searcher),
		Export:       services.NewExportService(bottleRepo, batchRepo, crypto),
	}

	server := api.NewServer(cfg, svcs, redisCache, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// initDatabase opens the Postgres connection, runs migrations and configures
// the pool. TranslateError is on so unique violations surface as
// gorm.ErrDuplicatedKey.
func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, nil
}
