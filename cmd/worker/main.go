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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/hookline/internal/bootstrap"
	"github.com/kursadbilgin/hookline/internal/config"
	"github.com/kursadbilgin/hookline/internal/handler"
	"github.com/kursadbilgin/hookline/internal/infra/postgresql"
	"github.com/kursadbilgin/hookline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/hookline/internal/infra/redis"
	"github.com/kursadbilgin/hookline/internal/observability"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.QueueBackend == config.QueueBackendMemory {
		logger.Fatal("the memory queue is process local; run the api with an embedded worker instead")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "hookline-worker", cfg.ServiceVersion, cfg.OTLPEndpoint)
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

	limiter, err := bootstrap.NewLimiter(cfg, rdb)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	emitter := opevents.NewEmitter(cfg.OperationalWebhookURL, cfg.JWTSecret, logger, metrics)
	defer emitter.Close()

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
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	probe := fiber.New(fiber.Config{
		AppName:               "hookline-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(probe,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.QueueCheck(worker.Prober),
	)
	probe.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		return probe.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return probe.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("hookline worker started",
		zap.String("queueBackend", cfg.QueueBackend),
		zap.Int("port", cfg.WorkerPort),
	)
	if err := g.Wait(); err != nil {
		logger.Error("hookline worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("hookline worker stopped")
}
