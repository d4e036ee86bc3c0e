package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/application/ingest"
	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/infrastructure/cache"
	"github.com/feedbridge/backend/internal/infrastructure/config"
	"github.com/feedbridge/backend/internal/infrastructure/drivers"
	"github.com/feedbridge/backend/internal/infrastructure/feedparse"
	"github.com/feedbridge/backend/internal/infrastructure/logger"
	"github.com/feedbridge/backend/internal/infrastructure/matching"
	"github.com/feedbridge/backend/internal/infrastructure/outbox"
	"github.com/feedbridge/backend/internal/infrastructure/persistence"
	"github.com/feedbridge/backend/internal/infrastructure/storage"
	"github.com/feedbridge/backend/internal/infrastructure/syndication"
	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
	"github.com/feedbridge/backend/internal/interfaces/http/handler"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
	"github.com/feedbridge/backend/internal/interfaces/http/router"
)

const driverHTTPTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting feedbridge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Tracing
	tracer, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := persistence.AutoMigrate(db.DB); err != nil {
		log.Fatal("Failed to migrate database schema", zap.Error(err))
	}
	log.Info("Database connected")

	// Repositories
	catalogRepo := persistence.NewCatalogRepository(db.DB)
	channelRepo := persistence.NewChannelRepository(db.DB)
	outboxRepo := outbox.NewGormOutboxRepository(db.DB)

	// Run lock store: Redis when available, in-process fallback otherwise
	var lockStore shared.IdempotencyStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		lockStore = redisStore
		log.Info("Redis run-lock store connected")
	} else {
		lockStore = cache.NewInMemoryIdempotencyStore()
		log.Warn("Redis disabled, using in-process run locks")
	}
	defer func() {
		if err := lockStore.Close(); err != nil {
			log.Error("Error closing run-lock store", zap.Error(err))
		}
	}()

	// Dead-letter archive: optional object storage
	var archiver *syndication.DeadLetterArchiver
	if cfg.Storage.Enabled {
		objectStorage, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		if err := objectStorage.EnsureBucket(context.Background()); err != nil {
			log.Fatal("Failed to ensure dead-letter bucket", zap.Error(err))
		}
		archiver = syndication.NewDeadLetterArchiver(objectStorage)
		log.Info("Dead-letter archival enabled", zap.String("bucket", objectStorage.GetBucket()))
	}

	// Channel drivers
	registry := drivers.NewRegistry()
	if err := registry.Register(channel.DriverStorefront,
		drivers.NewStorefrontProjector(catalogRepo),
		drivers.NewStorefrontTransport(driverHTTPTimeout, driverHTTPTimeout),
	); err != nil {
		log.Fatal("Failed to register storefront driver", zap.Error(err))
	}
	if err := registry.Register(channel.DriverMarketHub,
		drivers.NewMarketHubProjector(catalogRepo),
		drivers.NewMarketHubTransport(driverHTTPTimeout, driverHTTPTimeout),
	); err != nil {
		log.Fatal("Failed to register markethub driver", zap.Error(err))
	}

	// Ingestion pipeline
	matcher := matching.NewEngine(catalogRepo, log)
	publisher := outbox.NewWriter(outboxRepo, channelRepo, cfg.Syndication.MaxRetries, log)
	ingestService := ingest.NewService(
		matcher,
		catalogRepo,
		publisher,
		lockStore,
		cfg.Ingest.RunLockTTL,
		feedparse.Options{
			MaxProducts:         cfg.Ingest.MaxProducts,
			SkipImages:          cfg.Ingest.SkipImages,
			MaxImagesPerProduct: cfg.Ingest.MaxImagesPerProduct,
			PreferredImageHosts: cfg.Ingest.PreferredImageHosts,
		},
		log,
	)

	// Syndication worker
	worker := syndication.NewWorker(outboxRepo, channelRepo, registry, archiver, syndication.Options{
		BatchSize:      cfg.Syndication.BatchSize,
		PollInterval:   cfg.Syndication.PollInterval,
		Backoff:        shared.BackoffPolicy{Base: cfg.Syndication.BackoffBase, Max: cfg.Syndication.BackoffMax},
		StaleThreshold: cfg.Syndication.StaleThreshold,
	}, log)
	if cfg.Syndication.Enabled {
		if err := worker.Start(context.Background()); err != nil {
			log.Fatal("Failed to start syndication worker", zap.Error(err))
		}
	} else {
		log.Warn("Syndication worker disabled, outbox records will accumulate")
	}

	// HTTP server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(middleware.RequestID(log))
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))

	router.NewRouter(engine).
		Register(handler.NewIngestHandler(ingestService, log)).
		Register(handler.NewOutboxHandler(outboxRepo, log)).
		Register(handler.NewHealthHandler(db, channelRepo, registry, log)).
		Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cfg.Syndication.Enabled {
		if err := worker.Stop(ctx); err != nil {
			log.Error("Worker forced to shutdown", zap.Error(err))
		}
	}
	if err := tracer.Shutdown(ctx); err != nil {
		log.Error("Error flushing traces", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
