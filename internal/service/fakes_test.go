package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/repository"
)

type fakeApplicationRepo struct {
	createFn      func(ctx context.Context, a *domain.Application) error
	getByIDFn     func(ctx context.Context, orgID string, id string) (*domain.Application, error)
	getSnapshotFn func(ctx context.Context, orgID string, id string) (*domain.ApplicationSnapshot, error)
}

func (f *fakeApplicationRepo) Create(ctx context.Context, a *domain.Application) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeApplicationRepo) GetByID(ctx context.Context, orgID string, id string) (*domain.Application, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, orgID, id)
	}
	return &domain.Application{ID: id, OrgID: orgID, Name: "app"}, nil
}

func (f *fakeApplicationRepo) GetSnapshot(ctx context.Context, orgID string, id string) (*domain.ApplicationSnapshot, error) {
	if f.getSnapshotFn != nil {
		return f.getSnapshotFn(ctx, orgID, id)
	}
	return nil, domain.ErrNotFound
}

type fakeEndpointRepo struct {
	createFn    func(ctx context.Context, e *domain.Endpoint) error
	getByIDFn   func(ctx context.Context, appID string, id string) (*domain.Endpoint, error)
	listByAppFn func(ctx context.Context, appID string) ([]domain.Endpoint, error)
	updateFn    func(ctx context.Context, e *domain.Endpoint) error
	deleteFn    func(ctx context.Context, appID string, id string) error
}

func (f *fakeEndpointRepo) Create(ctx context.Context, e *domain.Endpoint) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	return nil
}

func (f *fakeEndpointRepo) GetByID(ctx context.Context, appID string, id string) (*domain.Endpoint, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, appID, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEndpointRepo) ListByApp(ctx context.Context, appID string) ([]domain.Endpoint, error) {
	if f.listByAppFn != nil {
		return f.listByAppFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeEndpointRepo) Update(ctx context.Context, e *domain.Endpoint) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, e)
	}
	return nil
}

func (f *fakeEndpointRepo) Delete(ctx context.Context, appID string, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, appID, id)
	}
	return nil
}

type fakeMessageRepo struct {
	getByIDFn                func(ctx context.Context, id string) (*domain.Message, error)
	getByUIDFn               func(ctx context.Context, appID string, uid string) (*domain.Message, error)
	createWithDestinationsFn func(ctx context.Context, msg *domain.Message, destinations []domain.MessageDestination) error
	scrubExpiredPayloadsFn   func(ctx context.Context, now time.Time, limit int) (int64, error)
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMessageRepo) GetByUID(ctx context.Context, appID string, uid string) (*domain.Message, error) {
	if f.getByUIDFn != nil {
		return f.getByUIDFn(ctx, appID, uid)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMessageRepo) CreateWithDestinations(ctx context.Context, msg *domain.Message, destinations []domain.MessageDestination) error {
	if f.createWithDestinationsFn != nil {
		return f.createWithDestinationsFn(ctx, msg, destinations)
	}
	return nil
}

func (f *fakeMessageRepo) ScrubExpiredPayloads(ctx context.Context, now time.Time, limit int) (int64, error) {
	if f.scrubExpiredPayloadsFn != nil {
		return f.scrubExpiredPayloadsFn(ctx, now, limit)
	}
	return 0, nil
}

type fakeDestinationRepo struct {
	createMissingFn   func(ctx context.Context, destinations []domain.MessageDestination) error
	getFn             func(ctx context.Context, msgID string, endpointID string) (*domain.MessageDestination, error)
	updateStatusFn    func(ctx context.Context, id string, status domain.MessageStatus, next *time.Time) error
	listFailedSinceFn func(ctx context.Context, endpointID string, since time.Time) ([]domain.MessageDestination, error)
}

func (f *fakeDestinationRepo) CreateMissing(ctx context.Context, destinations []domain.MessageDestination) error {
	if f.createMissingFn != nil {
		return f.createMissingFn(ctx, destinations)
	}
	return nil
}

func (f *fakeDestinationRepo) GetByMessageAndEndpoint(ctx context.Context, msgID string, endpointID string) (*domain.MessageDestination, error) {
	if f.getFn != nil {
		return f.getFn(ctx, msgID, endpointID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDestinationRepo) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, next *time.Time) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status, next)
	}
	return nil
}

func (f *fakeDestinationRepo) ListFailedSince(ctx context.Context, endpointID string, since time.Time) ([]domain.MessageDestination, error) {
	if f.listFailedSinceFn != nil {
		return f.listFailedSinceFn(ctx, endpointID, since)
	}
	return nil, nil
}

type fakeAttemptRepo struct {
	createFn        func(ctx context.Context, a *domain.MessageAttempt) error
	listByMessageFn func(ctx context.Context, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.MessageAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) ListByMessage(ctx context.Context, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error) {
	if f.listByMessageFn != nil {
		return f.listByMessageFn(ctx, msgID, filter)
	}
	return nil, nil
}

var (
	_ repository.ApplicationRepository = (*fakeApplicationRepo)(nil)
	_ repository.EndpointRepository    = (*fakeEndpointRepo)(nil)
	_ repository.MessageRepository     = (*fakeMessageRepo)(nil)
	_ repository.DestinationRepository = (*fakeDestinationRepo)(nil)
	_ repository.AttemptRepository     = (*fakeAttemptRepo)(nil)
)

type sentTask struct {
	task  domain.QueueTask
	delay time.Duration
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []sentTask
	sendFn func(ctx context.Context, task domain.QueueTask, delay time.Duration) error
}

func (f *fakeProducer) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, task, delay); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentTask{task: task, delay: delay})
	return nil
}

func (f *fakeProducer) tasks() []sentTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTask(nil), f.sent...)
}

type fakeSnapshots struct {
	fetchFn func(ctx context.Context, appID string, orgID string, ttl time.Duration) (*domain.ApplicationSnapshot, error)
}

func (f *fakeSnapshots) LayeredFetch(ctx context.Context, appID string, orgID string, ttl time.Duration) (*domain.ApplicationSnapshot, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, appID, orgID, ttl)
	}
	return nil, domain.ErrNotFound
}

type dispatchCall struct {
	task     domain.MessageTask
	endpoint domain.Endpoint
	ctxErr   error
}

type fakeDispatcher struct {
	mu         sync.Mutex
	calls      []dispatchCall
	dispatchFn func(task domain.MessageTask, endpoint domain.Endpoint) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task domain.MessageTask, _ domain.Application, _ domain.Message, endpoint domain.Endpoint) error {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{task: task, endpoint: endpoint, ctxErr: ctx.Err()})
	f.mu.Unlock()
	if f.dispatchFn != nil {
		return f.dispatchFn(task, endpoint)
	}
	return nil
}

func (f *fakeDispatcher) endpointIDs() map[string]domain.MessageTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.MessageTask, len(f.calls))
	for _, c := range f.calls {
		out[c.endpoint.ID] = c.task
	}
	return out
}

type fakeConsumer struct {
	receiveBatchFn func(ctx context.Context) ([]*queue.Delivery, error)
}

func (f *fakeConsumer) ReceiveBatch(ctx context.Context) ([]*queue.Delivery, error) {
	if f.receiveBatchFn != nil {
		return f.receiveBatchFn(ctx)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []opevents.Event
}

func (f *fakeEmitter) Emit(_ context.Context, _ string, event opevents.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEmitter) Close() {}

func (f *fakeEmitter) types() []opevents.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]opevents.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeInvalidator struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, orgID string, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, orgID+"/"+appID)
	return f.err
}
