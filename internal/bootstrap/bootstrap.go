// Package bootstrap assembles the runtime pieces shared by the hookline
// processes from a loaded config.
package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/kursadbilgin/hookline/internal/cache"
	"github.com/kursadbilgin/hookline/internal/config"
	"github.com/kursadbilgin/hookline/internal/delivery"
	infraredis "github.com/kursadbilgin/hookline/internal/infra/redis"
	"github.com/kursadbilgin/hookline/internal/observability"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/provider"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/ratelimit"
	"github.com/kursadbilgin/hookline/internal/repository"
	"github.com/kursadbilgin/hookline/internal/service"
)

// OpenQueue connects the task queue backend selected by QUEUE_BACKEND and
// wraps it with queue metrics.
func OpenQueue(cfg *config.Config, rdb *goredis.Client, logger *zap.Logger, metrics *observability.Metrics) (queue.TaskQueue, error) {
	opts := queue.Options{BatchSize: cfg.WorkerBatchSize}

	var (
		q   queue.TaskQueue
		err error
	)
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		q, err = queue.NewRedisQueue(rdb, queue.RedisQueueOptions{
			Options:    opts,
			Name:       cfg.QueueName,
			Visibility: cfg.QueueVisibility,
		}, logger)
	case config.QueueBackendRabbitMQ:
		var client *queue.RabbitMQ
		client, err = queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.QueueName, logger)
		if err == nil {
			q = queue.NewRabbitMQQueue(client, opts, logger)
		}
	case config.QueueBackendNSQ:
		q, err = queue.NewNSQQueue(queue.NSQQueueOptions{
			Options:     opts,
			Topic:       cfg.QueueName,
			Channel:     "worker",
			NSQDAddr:    cfg.NSQDAddr,
			LookupdAddr: cfg.NSQLookupdAddr,
		}, logger)
	case config.QueueBackendMemory:
		q = queue.NewMemoryQueue(opts)
	default:
		err = fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s queue: %w", cfg.QueueBackend, err)
	}

	return queue.WithMetrics(q, metrics), nil
}

func NewLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.Limiter, error) {
	if cfg.RateLimitBackend == config.RateLimitBackendLocal {
		return ratelimit.NewLocalLimiter(), nil
	}
	return infraredis.NewRedisRateLimiter(rdb)
}

// Worker bundles the background services of a worker process.
type Worker struct {
	Service *service.WorkerService
	Prober  *service.HealthProber
	Sweeper *service.PayloadSweeper
}

type WorkerParams struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *goredis.Client
	Queue   queue.TaskQueue
	Limiter ratelimit.Limiter
	Emitter opevents.Emitter
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

func NewWorker(p WorkerParams) (*Worker, error) {
	cfg := p.Config
	apps := repository.NewGormApplicationRepo(p.DB)
	messages := repository.NewGormMessageRepo(p.DB)
	destinations := repository.NewGormDestinationRepo(p.DB)
	attempts := repository.NewGormAttemptRepo(p.DB)

	snapshots, err := cache.NewSnapshotCache(p.Redis, apps, p.Logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherDeps{
		Destinations: destinations,
		Attempts:     attempts,
		Producer:     p.Queue,
		Sender:       provider.NewWebhookSender(cfg.WorkerRequestTimeout),
		Emitter:      p.Emitter,
		Limiter:      p.Limiter,
		Retry:        delivery.NewRetryScheduler(cfg.RetrySchedule),
		Headers:      delivery.NewHeaderBuilder(cfg.WhitelabelHeaders, cfg.ServiceVersion, p.Logger),
		Metrics:      p.Metrics,
		Logger:       p.Logger,
	})
	if err != nil {
		return nil, err
	}

	workerService, err := service.NewWorkerService(service.WorkerDeps{
		Consumer:       p.Queue,
		Messages:       messages,
		Destinations:   destinations,
		Snapshots:      snapshots,
		Dispatcher:     dispatcher,
		SnapshotTTL:    cfg.SnapshotCacheTTL,
		ReceiveBackoff: cfg.WorkerReceiveBackoff,
		Metrics:        p.Metrics,
		Logger:         p.Logger,
	})
	if err != nil {
		return nil, err
	}

	prober, err := service.NewHealthProber(p.Queue, cfg.QueueHealthInterval, p.Logger)
	if err != nil {
		return nil, err
	}

	sweeper, err := service.NewPayloadSweeper(messages, cfg.PayloadSweepInterval, 0, p.Logger)
	if err != nil {
		return nil, err
	}

	return &Worker{Service: workerService, Prober: prober, Sweeper: sweeper}, nil
}

// Run blocks until ctx is cancelled or one of the services fails.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Service.Start(gctx) })
	g.Go(func() error { return w.Prober.Start(gctx) })
	g.Go(func() error { return w.Sweeper.Start(gctx) })
	return g.Wait()
}
