// Package main wires together the harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/api"
	blobgcs "github.com/pharosdata/harvester/internal/blob/gcs"
	bloblocal "github.com/pharosdata/harvester/internal/blob/local"
	"github.com/pharosdata/harvester/internal/clock/system"
	"github.com/pharosdata/harvester/internal/config"
	fpbadger "github.com/pharosdata/harvester/internal/fingerprint/badger"
	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/logging"
	"github.com/pharosdata/harvester/internal/normalize"
	"github.com/pharosdata/harvester/internal/pipeline"
	memorybroker "github.com/pharosdata/harvester/internal/publisher/memory"
	pubsubbroker "github.com/pharosdata/harvester/internal/publisher/pubsub"
	"github.com/pharosdata/harvester/internal/schedule"
	"github.com/pharosdata/harvester/internal/spill"
	storemem "github.com/pharosdata/harvester/internal/storage/memory"
	storepg "github.com/pharosdata/harvester/internal/storage/postgres"
	"github.com/pharosdata/harvester/internal/units"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("harvester exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	registry := harvest.NewRegistry()
	if err := units.RegisterAll(registry); err != nil {
		return fmt.Errorf("register units: %w", err)
	}

	canonicalStore, runStore, jobStore, closeStores, err := setupStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	broker, closeBroker, err := setupBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	blobStore, err := setupBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	spillStore, err := spill.New(cfg.Spill.Dir)
	if err != nil {
		return fmt.Errorf("init spill store: %w", err)
	}

	index, err := fpbadger.Open(cfg.Fingerprint.Dir, cfg.Fingerprint.InMemory, logger.Named("fingerprint"))
	if err != nil {
		return fmt.Errorf("open fingerprint index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Warn("close fingerprint index", zap.Error(err))
		}
	}()

	opts := normalize.DefaultOptions()
	keywords, reprocess := cfg.NormalizeOptions()
	if keywords != nil {
		opts.CategoryKeywords = keywords
	}
	opts.AllowReprocess = reprocess

	normalizer := normalize.New(index, canonicalStore, clock, opts, logger.Named("normalize"))
	publisher := pipeline.NewPublisher(broker, cfg.PubSub.TopicName, spillStore, logger.Named("publish"))
	orch := pipeline.NewOrchestrator(
		registry,
		harvest.NewRecordBuilder(clock),
		publisher,
		normalizer,
		spillStore,
		runStore,
		blobStore,
		clock,
		cfg.UnitConfigs(),
		logger.Named("pipeline"),
	)
	scheduler := schedule.New(orch, jobStore, clock, logger.Named("schedule"))

	if err := seedJobs(ctx, cfg, jobStore, clock, logger); err != nil {
		return err
	}

	apiServer := api.NewServer(orch, scheduler, registry, runStore, jobStore, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		interval := time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second
		if err := scheduler.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func setupStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (
	harvest.CanonicalStore, harvest.RunStore, harvest.JobStore, func(), error,
) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory stores")
		return storemem.NewCanonicalStore(), storemem.NewRunStore(), storemem.NewJobStore(), func() {}, nil
	}

	pool, err := storepg.NewPool(ctx, storepg.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	canonical, err := storepg.NewCanonicalStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	runs, err := storepg.NewRunStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	jobs, err := storepg.NewJobStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	logger.Info("postgres stores initialized")
	return canonical, runs, jobs, pool.Close, nil
}

func setupBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Broker, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Warn("no pubsub topic configured, using in-memory broker")
		return memorybroker.New(), func() {}, nil
	}
	client, err := pubsubv2.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := client.Publisher(cfg.PubSub.TopicName)
	logger.Info("pubsub broker initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	closer := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	return pubsubbroker.New(publisher), closer, nil
}

func setupBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.BlobStore, error) {
	if cfg.Storage.GCSBucket != "" {
		store, err := blobgcs.New(ctx, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		logger.Info("gcs blob store initialized", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	}
	store, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.LocalDir})
	if err != nil {
		return nil, fmt.Errorf("init local blob store: %w", err)
	}
	return store, nil
}

// seedJobs loads config-declared jobs into the store and primes their
// first due time. Jobs already present keep their persisted state.
func seedJobs(ctx context.Context, cfg config.Config, jobs harvest.JobStore, clock harvest.Clock, logger *zap.Logger) error {
	for _, job := range cfg.JobDefinitions() {
		if err := schedule.ValidateJob(job); err != nil {
			return fmt.Errorf("invalid job config: %w", err)
		}
		if _, err := jobs.GetJob(ctx, job.ID); err == nil {
			continue
		}
		job.NextRunAt = schedule.NextRunAt(job, clock.Now())
		if err := jobs.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("seed job %s: %w", job.Name, err)
		}
		logger.Info("job seeded",
			zap.String("job", job.Name),
			zap.String("unit", job.UnitName),
			zap.Bool("enabled", job.Enabled),
		)
	}
	return nil
}
