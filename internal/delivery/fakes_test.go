package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/provider"
)

type fakeDestinationRepo struct {
	mu             sync.Mutex
	rows           map[string]*domain.MessageDestination
	updateStatusFn func(id string, status domain.MessageStatus, next *time.Time) error
}

func newFakeDestinationRepo(dests ...domain.MessageDestination) *fakeDestinationRepo {
	repo := &fakeDestinationRepo{rows: make(map[string]*domain.MessageDestination)}
	for i := range dests {
		dest := dests[i]
		repo.rows[dest.MsgID+"|"+dest.EndpointID] = &dest
	}
	return repo
}

func (f *fakeDestinationRepo) CreateMissing(_ context.Context, dests []domain.MessageDestination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range dests {
		key := dests[i].MsgID + "|" + dests[i].EndpointID
		if _, ok := f.rows[key]; !ok {
			dest := dests[i]
			f.rows[key] = &dest
		}
	}
	return nil
}

func (f *fakeDestinationRepo) GetByMessageAndEndpoint(_ context.Context, msgID string, endpointID string) (*domain.MessageDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dest, ok := f.rows[msgID+"|"+endpointID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *dest
	return &copied, nil
}

func (f *fakeDestinationRepo) UpdateStatus(_ context.Context, id string, status domain.MessageStatus, next *time.Time) error {
	if f.updateStatusFn != nil {
		if err := f.updateStatusFn(id, status, next); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dest := range f.rows {
		if dest.ID == id {
			dest.Status = status
			dest.NextAttempt = next
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeDestinationRepo) ListFailedSince(context.Context, string, time.Time) ([]domain.MessageDestination, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeDestinationRepo) get(msgID string, endpointID string) domain.MessageDestination {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[msgID+"|"+endpointID]
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.MessageAttempt
	createFn func(a *domain.MessageAttempt) error
}

func (f *fakeAttemptRepo) Create(_ context.Context, a *domain.MessageAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByMessage(_ context.Context, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MessageAttempt
	for _, a := range f.attempts {
		if a.MsgID == msgID && (filter.EndpointID == "" || a.EndpointID == filter.EndpointID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) all() []domain.MessageAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageAttempt(nil), f.attempts...)
}

type sentTask struct {
	task  domain.QueueTask
	delay time.Duration
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []sentTask
	sendFn func(task domain.QueueTask, delay time.Duration) error
}

func (f *fakeProducer) Send(_ context.Context, task domain.QueueTask, delay time.Duration) error {
	if f.sendFn != nil {
		if err := f.sendFn(task, delay); err != nil {
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

type fakeSender struct {
	mu       sync.Mutex
	requests []provider.Request
	sendFn   func(req provider.Request) (*provider.Response, error)
}

func (f *fakeSender) Send(_ context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.sendFn(req)
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type emitted struct {
	orgID string
	event opevents.Event
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, orgID string, event opevents.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{orgID: orgID, event: event})
}

func (f *fakeEmitter) Close() {}

func (f *fakeEmitter) ofType(eventType opevents.EventType) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func okSender() *fakeSender {
	return &fakeSender{sendFn: func(provider.Request) (*provider.Response, error) {
		return &provider.Response{StatusCode: 200, Body: []byte("ok")}, nil
	}}
}

func failingSender(status int) *fakeSender {
	return &fakeSender{sendFn: func(provider.Request) (*provider.Response, error) {
		return &provider.Response{StatusCode: status, Body: []byte("boom")}, &provider.DeliveryError{StatusCode: status, Reason: provider.ReasonHTTP5xx}
	}}
}
