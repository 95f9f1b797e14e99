package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridex/veridex-backend/api/controllers"
	"github.com/veridex/veridex-backend/api/routes"
	"github.com/veridex/veridex-backend/internal/analysis"
	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/internal/notifications"
	"github.com/veridex/veridex-backend/internal/upload"
	"github.com/veridex/veridex-backend/internal/verdictcache"
	"github.com/veridex/veridex-backend/internal/videos"
	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/db"
	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
	"github.com/veridex/veridex-backend/pkg/migrate"
	"github.com/veridex/veridex-backend/pkg/outbox"
	"github.com/veridex/veridex-backend/pkg/redis"
	"github.com/veridex/veridex-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	var gcsClient *gcs.Client
	if cfg.FeatureFlags.ArchiveGCS {
		gcsClient, err = gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap gcs", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing gcs client", err)
			}
		}()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(promRegistry)

	videosRepo := videos.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	var uploadSvc upload.Service
	if gcsClient != nil {
		uploadSvc, err = upload.NewService(sessionStore, chunkStore, videosRepo, dbClient, outboxSvc, gcsClient, pipelineMetrics, logg, cfg.Upload)
	} else {
		uploadSvc, err = upload.NewService(sessionStore, chunkStore, videosRepo, dbClient, outboxSvc, nil, pipelineMetrics, logg, cfg.Upload)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to create upload service", err)
		os.Exit(1)
	}

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
	analysisSvc, err := analysis.NewService(analysis.NewRepository(dbClient.DB()), videosRepo, cache, pool, dbClient, outboxSvc, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis service", err)
		os.Exit(1)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	healthPingers := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
		"gcs":   nil,
	}
	if gcsClient != nil {
		healthPingers["gcs"] = gcsClient
	}

	router := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		UploadService:  uploadSvc,
		AnalysisSvc:    analysisSvc,
		Notifications:  notificationsSvc,
		HealthPingers:  healthPingers,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
