package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/hookline/internal/bootstrap"
	"github.com/kursadbilgin/hookline/internal/cache"
	"github.com/kursadbilgin/hookline/internal/config"
	"github.com/kursadbilgin/hookline/internal/handler"
	"github.com/kursadbilgin/hookline/internal/infra/postgresql"
	"github.com/kursadbilgin/hookline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/hookline/internal/infra/redis"
	"github.com/kursadbilgin/hookline/internal/observability"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/repository"
	"github.com/kursadbilgin/hookline/internal/service"
	"github.com/kursadbilgin/hookline/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "hookline-api", cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing initialization failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	db, err := postgresql.NewPostgres(ctx, cfg.PostgresOptions())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if cfg.RunMigrations {
		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	taskQueue, err := bootstrap.OpenQueue(cfg, rdb, logger, metrics)
	if err != nil {
		logger.Fatal("task queue initialization failed", zap.Error(err))
	}
	defer taskQueue.Close()

	emitter := opevents.NewEmitter(cfg.OperationalWebhookURL, cfg.JWTSecret, logger, metrics)
	defer emitter.Close()

	apps := repository.NewGormApplicationRepo(db)
	endpoints := repository.NewGormEndpointRepo(db)
	messages := repository.NewGormMessageRepo(db)
	destinations := repository.NewGormDestinationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	snapshots, err := cache.NewSnapshotCache(rdb, apps, logger)
	if err != nil {
		logger.Fatal("snapshot cache initialization failed", zap.Error(err))
	}

	applicationService, err := service.NewApplicationService(apps, endpoints, snapshots, emitter, logger)
	if err != nil {
		logger.Fatal("application service initialization failed", zap.Error(err))
	}
	messageService, err := service.NewMessageService(messages, snapshots, taskQueue, cfg.SnapshotCacheTTL, cfg.PayloadRetention, logger)
	if err != nil {
		logger.Fatal("message service initialization failed", zap.Error(err))
	}
	attemptService, err := service.NewAttemptService(apps, messages, endpoints, destinations, attempts, taskQueue, cfg.MaxRecoveryWindow, logger)
	if err != nil {
		logger.Fatal("attempt service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "hookline-api",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware(transport.StatusFor))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)

	healthChecks := []handler.HealthCheck{handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb)}

	// The memory queue is process local, so the api runs the worker itself.
	if cfg.QueueBackend == config.QueueBackendMemory {
		limiter, err := bootstrap.NewLimiter(cfg, rdb)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
		worker, err := bootstrap.NewWorker(bootstrap.WorkerParams{
			Config:  cfg,
			DB:      db,
			Redis:   rdb,
			Queue:   taskQueue,
			Limiter: limiter,
			Emitter: emitter,
			Metrics: metrics,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("embedded worker initialization failed", zap.Error(err))
		}
		healthChecks = append(healthChecks, handler.QueueCheck(worker.Prober))
		g.Go(func() error { return worker.Run(gctx) })
		logger.Warn("memory queue selected, running an embedded worker")
	}

	handler.RegisterHealthRoutes(app, healthChecks...)
	err = handler.RegisterRoutes(app, handler.Services{
		Applications: applicationService,
		Messages:     messageService,
		Attempts:     attemptService,
	})
	if err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g.Go(func() error {
		logger.Info("hookline api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("hookline api stopped with error", zap.Error(err))
		return
	}
	logger.Info("hookline api stopped")
}
