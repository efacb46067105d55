package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nestsync/internal/api"
	"nestsync/internal/backend"
	"nestsync/internal/backoff"
	"nestsync/internal/config"
	"nestsync/internal/connectivity"
	"nestsync/internal/database"
	"nestsync/internal/domain"
	"nestsync/internal/events"
	"nestsync/internal/importer"
	"nestsync/internal/listener"
	"nestsync/internal/logging"
	"nestsync/internal/metrics"
	"nestsync/internal/models"
	"nestsync/internal/queue"
	"nestsync/internal/repository"
	"nestsync/internal/status"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", defaultConfigPath(), "path to config.yaml")
		importPath  = flag.String("import", "", "dataset file (.json or .xlsx); runs reconciliation and exits")
		importOwner = flag.String("owner", "", "owner id for -import")
		importMode  = flag.String("mode", "merge", "reconciliation strategy for -import: merge or replace")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backendClient := backend.NewClient(cfg.Backend, &logger)

	if *importPath != "" {
		return runImport(ctx, backendClient, *importPath, *importOwner, *importMode, &logger)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("database initialization failed")
		return err
	}
	defer db.Close()

	metrics.Register()

	redisClient, stateRepo := initStateRepository(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	eventBus := events.NewEventBus()
	aggregator := status.NewAggregator()

	monitor := connectivity.NewMonitor(
		backendClient,
		eventBus,
		time.Duration(cfg.Connectivity.ProbeIntervalSec)*time.Second,
		&logger,
	)

	processor := queue.NewProcessor(
		db, db, backendClient, aggregator, eventBus, redisClient,
		backoff.Policy{
			MaxRetries:    cfg.Queue.MaxRetries,
			InitialDelay:  time.Duration(cfg.Queue.InitialDelaySec) * time.Second,
			MaxDelay:      time.Duration(cfg.Queue.MaxDelaySec) * time.Second,
			BackoffFactor: 2,
			JitterMin:     time.Duration(cfg.Queue.JitterMinMs) * time.Millisecond,
			JitterMax:     time.Duration(cfg.Queue.JitterMaxMs) * time.Millisecond,
		},
		monitor.Online,
		cfg.Queue.DrainInterval(),
		&logger,
	)

	if err := processor.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("restore queued operations failed")
		return err
	}

	supervisor := listener.NewSupervisor(
		backendClient, db,
		backoff.Policy{
			MaxRetries:     cfg.Listener.MaxRetries,
			InitialDelay:   time.Duration(cfg.Listener.InitialDelaySec) * time.Second,
			MaxDelay:       time.Duration(cfg.Listener.MaxDelaySec) * time.Second,
			BackoffFactor:  2,
			JitterFraction: cfg.Listener.JitterFraction,
		},
		&logger,
	)

	subscribeConnectivityEvents(eventBus, processor, supervisor, aggregator)

	// Boot-time subscriptions for the owners this device tracks. Deliveries
	// are re-published on the bus so any surface can react without holding a
	// reference to the supervisor.
	for _, owner := range cfg.Listener.Owners {
		owner := owner
		supervisor.AddListener(ctx, owner, func(records []models.RemoteRecord) {
			if err := eventBus.PublishJSON(events.EventRecordsUpdated, events.SnapshotPayload{
				Owner:   owner,
				Records: len(records),
				At:      time.Now(),
			}); err != nil {
				logger.Error().Err(err).Str("owner", owner).Msg("publish snapshot event")
			}
		})
	}

	go monitor.Start(ctx)
	go processor.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, cfg.App.DeviceID, aggregator, processor, db, stateRepo, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	logger.Info().Msg("sync engine running")
	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
	return nil
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "configs/config.yaml"
}

func initStateRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.StateRepository) {
	ttl := time.Duration(models.DefaultStatusTTLSec) * time.Second

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("redis unavailable")
		}
	}

	primaryRepo := repository.NewRedisStateRepository(redisClient, ttl)
	fallbackRepo := repository.NewMemoryStateRepository(ttl)
	return redisClient, repository.NewFailoverStateRepository(primaryRepo, fallbackRepo, logger)
}

// subscribeConnectivityEvents wires "one event, many independent reactors":
// connectivity restored re-triggers a queue drain and a full listener
// reconnect pass, and keeps the aggregator's offline flag current.
func subscribeConnectivityEvents(
	bus *events.EventBus,
	processor *queue.Processor,
	supervisor *listener.Supervisor,
	aggregator *status.Aggregator,
) {
	bus.Subscribe(events.EventConnectivityRestored, func(_ *events.Event) error {
		aggregator.SetOnline(true)
		processor.Trigger()
		supervisor.ReconnectAll()
		return nil
	})

	bus.Subscribe(events.EventConnectivityLost, func(_ *events.Event) error {
		aggregator.SetOnline(false)
		return nil
	})
}

func runImport(ctx context.Context, client *backend.Client, path, owner, mode string, logger *zerolog.Logger) error {
	if owner == "" {
		return errors.New("-owner is required with -import")
	}
	parsedMode, err := importer.ParseMode(mode)
	if err != nil {
		return err
	}

	report, err := importer.New(client, logger).ImportFile(ctx, path, owner, parsedMode)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		logger.Warn().Int("failed", report.Failed).Msg("reconciliation finished with failures")
	}
	return nil
}
