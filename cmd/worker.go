package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/pharmatrace/services/provenance/config"
	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/search"
	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to index scan events from Azure Service Bus and reconcile missed scans into the search index`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	if _, err := tracing.NewTracer(cfg.Tracing); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		return err
	}
	if err := elasticClient.EnsureIndex(ctx); err != nil {
		return err
	}

	metricsCollector := metrics.NewMetrics()
	scanRepo := repositories.NewScanLogRepository(db)
	indexerService := services.NewIndexerService(scanRepo, elasticClient, metricsCollector)

	consumer, err := messaging.NewConsumer(cfg.Azure)
	if err != nil {
		return err
	}
	defer consumer.Close()

	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return consumer.ProcessMessages(ctx, indexerService.HandleScanMessage)
	})

	// Fallback sweep: scan logs whose bus publish was lost still reach the
	// search index
	g.Go(func() error {
		log.Info().Dur("every", cfg.Scan.ReconcileEvery).Msg("Starting scan reconciliation job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Scan.ReconcileEvery),
			gocron.NewTask(func() {
				if err := indexerService.ReconcileScans(ctx, cfg.Scan.ReconcileBatch); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile unindexed scans")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
