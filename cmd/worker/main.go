package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridex/veridex-backend/internal/analysis"
	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/internal/fusion"
	"github.com/veridex/veridex-backend/internal/notifications"
	"github.com/veridex/veridex-backend/internal/upload"
	"github.com/veridex/veridex-backend/internal/verdictcache"
	"github.com/veridex/veridex-backend/internal/videos"
	"github.com/veridex/veridex-backend/pkg/bigquery"
	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
	"github.com/veridex/veridex-backend/pkg/migrate"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/outbox/idempotency"
	"github.com/veridex/veridex-backend/pkg/pubsub"
	"github.com/veridex/veridex-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	var bigqueryClient *bigquery.Client
	if cfg.FeatureFlags.AuditBQ {
		bigqueryClient, err = bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bigqueryClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery client", err)
			}
		}()
	}

	promRegistry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(promRegistry)
	jobMetrics := metrics.NewJobMetrics(promRegistry)

	videosRepo := videos.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	pool, err := detectors.NewPool(cfg.Detectors, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create detector pool", err)
		os.Exit(1)
	}
	cache, err := verdictcache.New(redisClient, verdictcache.NewRepository(dbClient.DB()), cfg.Analysis.VerdictCacheTTL, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create verdict cache", err)
		os.Exit(1)
	}
	engine, err := fusion.NewEngine(cfg.Fusion)
	if err != nil {
		logg.Error(context.Background(), "failed to create fusion engine", err)
		os.Exit(1)
	}

	var auditSink analysis.AuditSink
	if bigqueryClient != nil {
		auditSink = bigqueryClient
	}
	runner, err := analysis.NewRunner(
		analysis.NewRepository(dbClient.DB()),
		videosRepo,
		pool,
		engine,
		cache,
		dbClient,
		outboxSvc,
		auditSink,
		cfg.BigQuery.VerdictAuditTable,
		pipelineMetrics,
		logg,
		cfg.Analysis,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis runner", err)
		os.Exit(1)
	}

	sessionStore, err := upload.NewSessionStore(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create session store", err)
		os.Exit(1)
	}
	chunkStore, err := upload.NewChunkStore(cfg.Upload.SpoolDir)
	if err != nil {
		logg.Error(context.Background(), "failed to create chunk store", err)
		os.Exit(1)
	}
	sweeper := upload.NewSweeper(sessionStore, chunkStore, cfg.Upload.SweepInterval, jobMetrics, logg)

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
	consumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		pubsubClient.NotificationSubscription(),
		idempotencyManager,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:               cfg,
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		Runner:               runner,
		Sweeper:              sweeper,
		NotificationConsumer: consumer,
		BigQuery:             bigqueryClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
