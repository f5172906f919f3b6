package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/hookline/internal/delivery"
	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/observability"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/repository"
)

const (
	defaultSnapshotTTL    = 30 * time.Second
	defaultReceiveBackoff = 10 * time.Millisecond
)

// SnapshotFetcher reads an application with its live endpoints, usually
// through the snapshot cache.
type SnapshotFetcher interface {
	LayeredFetch(ctx context.Context, appID string, orgID string, ttl time.Duration) (*domain.ApplicationSnapshot, error)
}

// TaskDispatcher performs a single delivery attempt.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task domain.MessageTask, app domain.Application, msg domain.Message, endpoint domain.Endpoint) error
}

// WorkerDeps is built once at startup and never mutated afterwards.
type WorkerDeps struct {
	Consumer       queue.Consumer
	Messages       repository.MessageRepository
	Destinations   repository.DestinationRepository
	Snapshots      SnapshotFetcher
	Dispatcher     TaskDispatcher
	SnapshotTTL    time.Duration
	ReceiveBackoff time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// WorkerService pulls task batches off the queue and processes every task of
// a batch concurrently.
type WorkerService struct {
	consumer       queue.Consumer
	messages       repository.MessageRepository
	destinations   repository.DestinationRepository
	snapshots      SnapshotFetcher
	dispatcher     TaskDispatcher
	snapshotTTL    time.Duration
	receiveBackoff time.Duration
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

func NewWorkerService(deps WorkerDeps) (*WorkerService, error) {
	if deps.Consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if deps.Messages == nil || deps.Destinations == nil {
		return nil, fmt.Errorf("message and destination repositories are required")
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot fetcher is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.SnapshotTTL <= 0 {
		deps.SnapshotTTL = defaultSnapshotTTL
	}
	if deps.ReceiveBackoff <= 0 {
		deps.ReceiveBackoff = defaultReceiveBackoff
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:       deps.Consumer,
		messages:       deps.Messages,
		destinations:   deps.Destinations,
		snapshots:      deps.Snapshots,
		dispatcher:     deps.Dispatcher,
		snapshotTTL:    deps.SnapshotTTL,
		receiveBackoff: deps.ReceiveBackoff,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            time.Now,
	}, nil
}

// Start receives and processes batches until ctx is done. The next batch is
// only received once every task of the current one has been acked or nacked.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			s.logger.Info("worker stopped")
			return nil
		}

		batch, err := s.consumer.ReceiveBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("failed to receive task batch", zap.Error(err))
			sleep(ctx, s.receiveBackoff)
			continue
		}

		s.processBatch(ctx, batch)
	}
}

func (s *WorkerService) processBatch(ctx context.Context, batch []*queue.Delivery) {
	if len(batch) == 0 {
		return
	}

	// A plain group: one failing task must not cancel its siblings.
	var g errgroup.Group
	for _, d := range batch {
		g.Go(func() error {
			s.handleDelivery(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *WorkerService) handleDelivery(ctx context.Context, d *queue.Delivery) {
	ctx = observability.ExtractTrace(ctx, d.Trace)
	kind := string(d.Task.Kind())

	ctx, span := observability.StartSpan(ctx, "worker.process_task",
		attribute.String("task.id", d.ID),
		attribute.String("task.type", kind),
	)
	defer span.End()

	s.metrics.IncWorkerInFlight(kind)
	defer s.metrics.DecWorkerInFlight(kind)

	logger := observability.WithContextLogger(s.logger, ctx).With(observability.TaskFields(d.Task)...)

	// A received task runs to completion and is settled even when shutdown
	// has cancelled ctx.
	settleCtx := context.WithoutCancel(ctx)

	if err := s.processTask(settleCtx, d.Task); err != nil {
		observability.SetSpanError(ctx, err)
		if errors.Is(err, domain.ErrInvariant) {
			logger.Error("task violates a store invariant, nacking", zap.Error(err))
		} else {
			logger.Warn("task processing failed, nacking", zap.Error(err))
		}
		if nackErr := d.Nack(settleCtx); nackErr != nil {
			logger.Error("failed to nack task", zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(settleCtx); err != nil {
		logger.Error("failed to ack task", zap.Error(err))
	}
}

func (s *WorkerService) processTask(ctx context.Context, task domain.QueueTask) error {
	switch t := task.(type) {
	case domain.HealthCheckTask:
		return nil
	case domain.MessageTask:
		return s.processMessageTask(ctx, t)
	case domain.MessageBatchTask:
		return s.processBatchTask(ctx, t)
	}
	return fmt.Errorf("unsupported task type %T", task)
}

func (s *WorkerService) processMessageTask(ctx context.Context, task domain.MessageTask) error {
	msg, snapshot, err := s.load(ctx, task.MsgID)
	if err != nil {
		return err
	}

	selected := delivery.SelectEndpoints(msg, snapshot.Endpoints, task.TriggerType)
	targets := make([]domain.Endpoint, 0, 1)
	for _, endpoint := range selected {
		if endpoint.ID == task.EndpointID {
			targets = append(targets, endpoint)
		}
	}
	if len(targets) == 0 {
		s.logger.Info("endpoint no longer receives message, dropping task",
			zap.String("msgId", task.MsgID),
			zap.String("endpointId", task.EndpointID),
		)
		return nil
	}

	return s.dispatchAll(ctx, snapshot.Application, *msg, targets, func(domain.Endpoint) domain.MessageTask {
		return task
	})
}

func (s *WorkerService) processBatchTask(ctx context.Context, task domain.MessageBatchTask) error {
	msg, snapshot, err := s.load(ctx, task.MsgID)
	if err != nil {
		return err
	}

	selected := delivery.SelectEndpoints(msg, snapshot.Endpoints, task.TriggerType)
	if task.ForceEndpoint != nil {
		forced := selected[:0]
		for _, endpoint := range selected {
			if endpoint.ID == *task.ForceEndpoint {
				forced = append(forced, endpoint)
			}
		}
		selected = forced
	}
	if len(selected) == 0 {
		return nil
	}

	now := s.now().UTC()
	destinations := make([]domain.MessageDestination, 0, len(selected))
	for _, endpoint := range selected {
		destinations = append(destinations, domain.NewSendingDestination(msg.ID, endpoint.ID, now))
	}
	if err := s.destinations.CreateMissing(ctx, destinations); err != nil {
		return fmt.Errorf("failed to create destinations: %w", err)
	}

	return s.dispatchAll(ctx, snapshot.Application, *msg, selected, func(endpoint domain.Endpoint) domain.MessageTask {
		return domain.MessageTask{
			MsgID:        msg.ID,
			AppID:        msg.AppID,
			EndpointID:   endpoint.ID,
			AttemptCount: 0,
			TriggerType:  task.TriggerType,
		}
	})
}

func (s *WorkerService) load(ctx context.Context, msgID string) (*domain.Message, *domain.ApplicationSnapshot, error) {
	msg, err := s.messages.GetByID(ctx, msgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: message %s not found", domain.ErrInvariant, msgID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load message: %w", err)
	}
	if !msg.HasPayload() {
		return nil, nil, fmt.Errorf("%w: message %s has no payload", domain.ErrInvariant, msgID)
	}

	snapshot, err := s.snapshots.LayeredFetch(ctx, msg.AppID, msg.OrgID, s.snapshotTTL)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: application %s not found", domain.ErrInvariant, msg.AppID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load application snapshot: %w", err)
	}
	return msg, snapshot, nil
}

// dispatchAll runs one dispatch per endpoint concurrently and joins their
// errors.
func (s *WorkerService) dispatchAll(ctx context.Context, app domain.Application, msg domain.Message, endpoints []domain.Endpoint, taskFor func(domain.Endpoint) domain.MessageTask) error {
	errs := make([]error, len(endpoints))

	var g errgroup.Group
	for i, endpoint := range endpoints {
		g.Go(func() error {
			errs[i] = s.dispatcher.Dispatch(ctx, taskFor(endpoint), app, msg, endpoint)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
