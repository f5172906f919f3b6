package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/provider"
	"github.com/kursadbilgin/hookline/internal/signing"
)

const testSigningKey = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

var (
	testNow      = time.Unix(1700000000, 0).UTC()
	testSchedule = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second}
)

type fakeLimiter struct {
	keys   []string
	waitFn func(key string, perSecond int) error
}

func (f *fakeLimiter) Wait(_ context.Context, key string, perSecond int) error {
	f.keys = append(f.keys, key)
	if f.waitFn != nil {
		return f.waitFn(key, perSecond)
	}
	return nil
}

type dispatcherFixture struct {
	dispatcher   *Dispatcher
	destinations *fakeDestinationRepo
	attempts     *fakeAttemptRepo
	producer     *fakeProducer
	emitter      *fakeEmitter
	limiter      *fakeLimiter
	app          domain.Application
	msg          domain.Message
	endpoint     domain.Endpoint
}

func newDispatcherFixture(t *testing.T, sender provider.Sender, status domain.MessageStatus) *dispatcherFixture {
	t.Helper()

	f := &dispatcherFixture{
		attempts: &fakeAttemptRepo{},
		producer: &fakeProducer{},
		emitter:  &fakeEmitter{},
		limiter:  &fakeLimiter{},
		app:      domain.Application{ID: "app_1", OrgID: "org_1", Name: "billing"},
		msg: domain.Message{
			ID:        "msg_1",
			AppID:     "app_1",
			OrgID:     "org_1",
			EventType: "invoice.paid",
			Payload:   []byte(`{"amount":100}`),
		},
		endpoint: domain.Endpoint{
			ID:    "ep_1",
			AppID: "app_1",
			URL:   "https://example.com/hook",
			Key:   testSigningKey,
		},
	}

	dest := domain.NewSendingDestination(f.msg.ID, f.endpoint.ID, testNow)
	dest.Status = status
	if !status.IsInFlight() {
		dest.NextAttempt = nil
	}
	f.destinations = newFakeDestinationRepo(dest)

	d, err := NewDispatcher(DispatcherDeps{
		Destinations: f.destinations,
		Attempts:     f.attempts,
		Producer:     f.producer,
		Sender:       sender,
		Emitter:      f.emitter,
		Limiter:      f.limiter,
		Retry:        NewRetrySchedulerWithRand(testSchedule, func() float64 { return 0.5 }),
		Headers:      NewHeaderBuilder(false, "test", zap.NewNop()),
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.now = func() time.Time { return testNow }
	f.dispatcher = d

	return f
}

func (f *dispatcherFixture) task(attemptCount int, trigger domain.TriggerType) domain.MessageTask {
	return domain.MessageTask{
		MsgID:        f.msg.ID,
		AppID:        f.app.ID,
		EndpointID:   f.endpoint.ID,
		AttemptCount: attemptCount,
		TriggerType:  trigger,
	}
}

func (f *dispatcherFixture) dispatch(t *testing.T, task domain.MessageTask) {
	t.Helper()
	if err := f.dispatcher.Dispatch(context.Background(), task, f.app, f.msg, f.endpoint); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatcher(DispatcherDeps{}); err == nil {
		t.Fatal("NewDispatcher() error = nil, want error")
	}
	if _, err := NewDispatcher(DispatcherDeps{
		Destinations: newFakeDestinationRepo(),
		Attempts:     &fakeAttemptRepo{},
		Producer:     &fakeProducer{},
	}); err == nil {
		t.Fatal("NewDispatcher() without sender error = nil, want error")
	}
}

func TestDispatchSuccess(t *testing.T) {
	t.Parallel()

	sender := okSender()
	f := newDispatcherFixture(t, sender, domain.StatusSending)
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	if sender.calls() != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls())
	}
	req := sender.requests[0]
	if req.URL != f.endpoint.URL {
		t.Fatalf("request URL = %s, want %s", req.URL, f.endpoint.URL)
	}
	if string(req.Body) != string(f.msg.Payload) {
		t.Fatalf("request body = %s, want %s", req.Body, f.msg.Payload)
	}
	if got := req.Headers.Get("hookline-id"); got != f.msg.ID {
		t.Fatalf("hookline-id = %q, want %q", got, f.msg.ID)
	}
	if got := req.Headers.Get("hookline-timestamp"); got != strconv.FormatInt(testNow.Unix(), 10) {
		t.Fatalf("hookline-timestamp = %q, want %d", got, testNow.Unix())
	}

	key, err := signing.ParseKey(testSigningKey)
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if !signing.Verify(key, f.msg.ID, testNow.Unix(), f.msg.Payload, req.Headers.Get("hookline-signature")) {
		t.Fatalf("signature %q does not verify", req.Headers.Get("hookline-signature"))
	}

	dest := f.destinations.get(f.msg.ID, f.endpoint.ID)
	if dest.Status != domain.StatusSuccess || dest.NextAttempt != nil {
		t.Fatalf("destination = %s next=%v, want success with no next attempt", dest.Status, dest.NextAttempt)
	}

	attempts := f.attempts.all()
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if a.Status != domain.StatusSuccess || a.ResponseStatusCode != 200 || a.Response != "ok" {
		t.Fatalf("attempt = %+v, want success 200 ok", a)
	}
	if a.DestinationID != dest.ID || a.URL != f.endpoint.URL || a.TriggerType != domain.TriggerScheduled {
		t.Fatalf("attempt = %+v, unexpected linkage", a)
	}

	if len(f.producer.tasks()) != 0 {
		t.Fatalf("producer sends = %d, want 0", len(f.producer.tasks()))
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.emitter.events))
	}
	if len(f.limiter.keys) != 0 {
		t.Fatalf("limiter calls = %d, want 0 without a rate limit", len(f.limiter.keys))
	}
}

func TestDispatchSkipsSettledDestination(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.MessageStatus{domain.StatusSuccess, domain.StatusFail} {
		status := status
		t.Run(status.String(), func(t *testing.T) {
			t.Parallel()

			sender := okSender()
			f := newDispatcherFixture(t, sender, status)
			f.dispatch(t, f.task(2, domain.TriggerScheduled))

			if sender.calls() != 0 {
				t.Fatalf("sender calls = %d, want 0", sender.calls())
			}
			if len(f.attempts.all()) != 0 {
				t.Fatalf("attempts = %d, want 0", len(f.attempts.all()))
			}
			if got := f.destinations.get(f.msg.ID, f.endpoint.ID).Status; got != status {
				t.Fatalf("destination status = %s, want %s", got, status)
			}
		})
	}
}

func TestDispatchSchedulesRetry(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t, failingSender(500), domain.StatusSending)
	f.dispatch(t, f.task(1, domain.TriggerScheduled))

	dest := f.destinations.get(f.msg.ID, f.endpoint.ID)
	if dest.Status != domain.StatusSending {
		t.Fatalf("destination status = %s, want sending", dest.Status)
	}
	wantNext := testNow.Add(2 * time.Second)
	if dest.NextAttempt == nil || !dest.NextAttempt.Equal(wantNext) {
		t.Fatalf("next attempt = %v, want %v", dest.NextAttempt, wantNext)
	}

	sent := f.producer.tasks()
	if len(sent) != 1 {
		t.Fatalf("producer sends = %d, want 1", len(sent))
	}
	retry, ok := sent[0].task.(domain.MessageTask)
	if !ok {
		t.Fatalf("retry task type = %T, want MessageTask", sent[0].task)
	}
	if retry.AttemptCount != 2 || retry.TriggerType != domain.TriggerScheduled || retry.EndpointID != f.endpoint.ID {
		t.Fatalf("retry task = %+v, want attempt 2 scheduled", retry)
	}
	if sent[0].delay != 2*time.Second {
		t.Fatalf("retry delay = %s, want 2s", sent[0].delay)
	}

	attempts := f.attempts.all()
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	if attempts[0].Status != domain.StatusFail || attempts[0].ResponseStatusCode != 500 || attempts[0].Response != "boom" {
		t.Fatalf("attempt = %+v, want fail 500 boom", attempts[0])
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.emitter.events))
	}
}

func TestDispatchEmitsFailingOnFourthAttempt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attemptCount int
		wantFailing  int
	}{
		{attemptCount: 3, wantFailing: 0},
		{attemptCount: 4, wantFailing: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(strconv.Itoa(tt.attemptCount), func(t *testing.T) {
			t.Parallel()

			f := newDispatcherFixture(t, failingSender(503), domain.StatusSending)
			f.dispatch(t, f.task(tt.attemptCount, domain.TriggerScheduled))

			failing := f.emitter.ofType(opevents.MessageAttemptFailing)
			if len(failing) != tt.wantFailing {
				t.Fatalf("failing events = %d, want %d", len(failing), tt.wantFailing)
			}
			if tt.wantFailing == 0 {
				return
			}

			if failing[0].orgID != f.app.OrgID {
				t.Fatalf("event org = %s, want %s", failing[0].orgID, f.app.OrgID)
			}
			data, ok := failing[0].event.Data.(opevents.MessageAttemptData)
			if !ok {
				t.Fatalf("event data type = %T", failing[0].event.Data)
			}
			if data.MsgID != f.msg.ID || data.EndpointID != f.endpoint.ID || data.LastAttempt.ResponseStatusCode != 503 {
				t.Fatalf("event data = %+v", data)
			}
		})
	}
}

func TestDispatchExhaustsRetrySchedule(t *testing.T) {
	t.Parallel()

	sender := failingSender(500)
	f := newDispatcherFixture(t, sender, domain.StatusSending)

	task := f.task(0, domain.TriggerScheduled)
	for i := 0; i < 20; i++ {
		f.dispatch(t, task)

		sent := f.producer.tasks()
		if len(sent) == i {
			break
		}
		task = sent[len(sent)-1].task.(domain.MessageTask)
	}

	if sender.calls() != len(testSchedule)+1 {
		t.Fatalf("sender calls = %d, want %d", sender.calls(), len(testSchedule)+1)
	}
	if got := len(f.producer.tasks()); got != len(testSchedule) {
		t.Fatalf("retries = %d, want %d", got, len(testSchedule))
	}

	dest := f.destinations.get(f.msg.ID, f.endpoint.ID)
	if dest.Status != domain.StatusFail || dest.NextAttempt != nil {
		t.Fatalf("destination = %s next=%v, want fail with no next attempt", dest.Status, dest.NextAttempt)
	}
	if got := len(f.emitter.ofType(opevents.MessageAttemptExhausted)); got != 1 {
		t.Fatalf("exhausted events = %d, want 1", got)
	}
	if got := len(f.emitter.ofType(opevents.MessageAttemptFailing)); got != 1 {
		t.Fatalf("failing events = %d, want 1", got)
	}

	// A redelivered copy of the last task is ignored once settled.
	f.dispatch(t, task)
	if sender.calls() != len(testSchedule)+1 {
		t.Fatalf("sender calls after redelivery = %d, want %d", sender.calls(), len(testSchedule)+1)
	}
	if got := len(f.emitter.ofType(opevents.MessageAttemptExhausted)); got != 1 {
		t.Fatalf("exhausted events after redelivery = %d, want 1", got)
	}
}

func TestDispatchManualFailureIsRecordedOnly(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t, failingSender(500), domain.StatusFail)
	f.dispatch(t, f.task(0, domain.TriggerManual))

	attempts := f.attempts.all()
	if len(attempts) != 1 || attempts[0].TriggerType != domain.TriggerManual {
		t.Fatalf("attempts = %+v, want one manual attempt", attempts)
	}
	if got := f.destinations.get(f.msg.ID, f.endpoint.ID).Status; got != domain.StatusFail {
		t.Fatalf("destination status = %s, want fail", got)
	}
	if len(f.producer.tasks()) != 0 {
		t.Fatalf("producer sends = %d, want 0", len(f.producer.tasks()))
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("events = %d, want 0", len(f.emitter.events))
	}
}

func TestDispatchManualSuccessRecovers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        domain.MessageStatus
		wantRecovered int
	}{
		{name: "from fail", status: domain.StatusFail, wantRecovered: 1},
		{name: "from success", status: domain.StatusSuccess, wantRecovered: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newDispatcherFixture(t, okSender(), tt.status)
			f.dispatch(t, f.task(0, domain.TriggerManual))

			if got := f.destinations.get(f.msg.ID, f.endpoint.ID).Status; got != domain.StatusSuccess {
				t.Fatalf("destination status = %s, want success", got)
			}
			if got := len(f.emitter.ofType(opevents.MessageAttemptRecovered)); got != tt.wantRecovered {
				t.Fatalf("recovered events = %d, want %d", got, tt.wantRecovered)
			}
		})
	}
}

func TestDispatchTransportFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(provider.Request) (*provider.Response, error) {
		return nil, &provider.DeliveryError{
			Reason: provider.ReasonConnectionRefused,
			Cause:  errors.New("dial tcp 127.0.0.1:1: connect: connection refused"),
		}
	}}
	f := newDispatcherFixture(t, sender, domain.StatusSending)
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	attempts := f.attempts.all()
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	if attempts[0].ResponseStatusCode != 0 {
		t.Fatalf("status code = %d, want 0", attempts[0].ResponseStatusCode)
	}
	if !strings.Contains(attempts[0].Response, "connection refused") {
		t.Fatalf("response = %q, want transport cause", attempts[0].Response)
	}
	if len(f.producer.tasks()) != 1 {
		t.Fatalf("producer sends = %d, want 1", len(f.producer.tasks()))
	}
}

func TestDispatchEncodesBinaryResponse(t *testing.T) {
	t.Parallel()

	raw := []byte{0xff, 0xfe, 0x00}
	sender := &fakeSender{sendFn: func(provider.Request) (*provider.Response, error) {
		return &provider.Response{StatusCode: 204, Body: raw}, nil
	}}
	f := newDispatcherFixture(t, sender, domain.StatusSending)
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	want := base64.StdEncoding.EncodeToString(raw)
	if got := f.attempts.all()[0].Response; got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestNewAttemptStoresUTCTimes(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC+3", 3*60*60)
	start := testNow.In(zone)
	ended := start.Add(250 * time.Millisecond)
	dest := domain.NewSendingDestination("msg_1", "ep_1", testNow)
	endpoint := domain.Endpoint{ID: "ep_1", URL: "https://example.com/hook"}

	a := newAttempt(domain.MessageTask{TriggerType: domain.TriggerScheduled}, &dest, endpoint, &provider.Response{StatusCode: 200}, nil, start, ended)
	if a.CreatedAt.Location() != time.UTC {
		t.Fatalf("CreatedAt location = %s, want UTC", a.CreatedAt.Location())
	}
	if a.EndedAt == nil || a.EndedAt.Location() != time.UTC {
		t.Fatalf("EndedAt = %v, want UTC", a.EndedAt)
	}
	if !a.EndedAt.Equal(ended) {
		t.Fatalf("EndedAt = %s, want %s", a.EndedAt, ended)
	}
}

func TestDispatchPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("db down")

	t.Run("attempt insert", func(t *testing.T) {
		t.Parallel()

		f := newDispatcherFixture(t, okSender(), domain.StatusSending)
		f.attempts.createFn = func(*domain.MessageAttempt) error { return storeErr }

		err := f.dispatcher.Dispatch(context.Background(), f.task(0, domain.TriggerScheduled), f.app, f.msg, f.endpoint)
		if !errors.Is(err, storeErr) {
			t.Fatalf("Dispatch() error = %v, want %v", err, storeErr)
		}
	})

	t.Run("status update", func(t *testing.T) {
		t.Parallel()

		f := newDispatcherFixture(t, failingSender(500), domain.StatusSending)
		f.destinations.updateStatusFn = func(string, domain.MessageStatus, *time.Time) error { return storeErr }

		err := f.dispatcher.Dispatch(context.Background(), f.task(0, domain.TriggerScheduled), f.app, f.msg, f.endpoint)
		if !errors.Is(err, storeErr) {
			t.Fatalf("Dispatch() error = %v, want %v", err, storeErr)
		}
		if len(f.producer.tasks()) != 0 {
			t.Fatalf("producer sends = %d, want 0", len(f.producer.tasks()))
		}
	})

	t.Run("retry enqueue", func(t *testing.T) {
		t.Parallel()

		f := newDispatcherFixture(t, failingSender(500), domain.StatusSending)
		queueErr := errors.New("queue full")
		f.producer.sendFn = func(domain.QueueTask, time.Duration) error { return queueErr }

		err := f.dispatcher.Dispatch(context.Background(), f.task(0, domain.TriggerScheduled), f.app, f.msg, f.endpoint)
		if !errors.Is(err, queueErr) {
			t.Fatalf("Dispatch() error = %v, want %v", err, queueErr)
		}
	})

	t.Run("missing destination", func(t *testing.T) {
		t.Parallel()

		f := newDispatcherFixture(t, okSender(), domain.StatusSending)
		task := f.task(0, domain.TriggerScheduled)
		task.EndpointID = "ep_other"
		endpoint := f.endpoint
		endpoint.ID = "ep_other"

		err := f.dispatcher.Dispatch(context.Background(), task, f.app, f.msg, endpoint)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Dispatch() error = %v, want ErrNotFound", err)
		}
	})
}

func TestDispatchRejectsScrubbedPayload(t *testing.T) {
	t.Parallel()

	sender := okSender()
	f := newDispatcherFixture(t, sender, domain.StatusSending)
	f.msg.Payload = nil

	if err := f.dispatcher.Dispatch(context.Background(), f.task(0, domain.TriggerScheduled), f.app, f.msg, f.endpoint); err == nil {
		t.Fatal("Dispatch() error = nil, want error")
	}
	if sender.calls() != 0 {
		t.Fatalf("sender calls = %d, want 0", sender.calls())
	}
}

func TestDispatchWaitsOnEndpointRateLimit(t *testing.T) {
	t.Parallel()

	sender := okSender()
	f := newDispatcherFixture(t, sender, domain.StatusSending)
	limit := 5
	f.endpoint.RateLimit = &limit
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	if len(f.limiter.keys) != 1 || f.limiter.keys[0] != f.endpoint.ID {
		t.Fatalf("limiter keys = %v, want [%s]", f.limiter.keys, f.endpoint.ID)
	}

	limiterErr := context.DeadlineExceeded
	f.limiter.waitFn = func(string, int) error { return limiterErr }
	f2 := newDispatcherFixture(t, sender, domain.StatusSending)
	f2.endpoint.RateLimit = &limit
	f2.dispatcher.limiter = f.limiter

	err := f2.dispatcher.Dispatch(context.Background(), f2.task(0, domain.TriggerScheduled), f2.app, f2.msg, f2.endpoint)
	if !errors.Is(err, limiterErr) {
		t.Fatalf("Dispatch() error = %v, want %v", err, limiterErr)
	}
	if sender.calls() != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls())
	}
}

func TestDispatchSignsWithUnexpiredOldKeys(t *testing.T) {
	t.Parallel()

	sender := okSender()
	f := newDispatcherFixture(t, sender, domain.StatusSending)

	oldKey, err := signing.GenerateHMACKey()
	if err != nil {
		t.Fatalf("GenerateHMACKey() error = %v", err)
	}
	expiredKey, err := signing.GenerateHMACKey()
	if err != nil {
		t.Fatalf("GenerateHMACKey() error = %v", err)
	}
	f.endpoint.OldKeys = []domain.OldSigningKey{
		{Key: oldKey.String(), Expiration: testNow.Add(time.Hour)},
		{Key: expiredKey.String(), Expiration: testNow.Add(-time.Hour)},
	}
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	header := sender.requests[0].Headers.Get("hookline-signature")
	if got := len(strings.Fields(header)); got != 2 {
		t.Fatalf("signature tokens = %d, want 2", got)
	}
	if !signing.Verify(oldKey, f.msg.ID, testNow.Unix(), f.msg.Payload, header) {
		t.Fatal("old key signature does not verify")
	}
	if signing.Verify(expiredKey, f.msg.ID, testNow.Unix(), f.msg.Payload, header) {
		t.Fatal("expired key still signs")
	}
}

func TestDispatchOverHTTP(t *testing.T) {
	t.Parallel()

	type received struct {
		headers http.Header
		body    string
	}
	got := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{headers: r.Header.Clone(), body: string(body)}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := newDispatcherFixture(t, provider.NewWebhookSender(5*time.Second), domain.StatusSending)
	f.endpoint.URL = server.URL
	f.endpoint.Headers = map[string]string{"X-Tenant": "acme"}
	f.dispatch(t, f.task(0, domain.TriggerScheduled))

	r := <-got
	if r.body != string(f.msg.Payload) {
		t.Fatalf("received body = %s, want %s", r.body, f.msg.Payload)
	}
	if r.headers.Get("X-Tenant") != "acme" {
		t.Fatalf("X-Tenant = %q, want acme", r.headers.Get("X-Tenant"))
	}
	if r.headers.Get("User-Agent") != "Hookline-Webhooks/test" {
		t.Fatalf("User-Agent = %q, want Hookline-Webhooks/test", r.headers.Get("User-Agent"))
	}

	attempts := f.attempts.all()
	if len(attempts) != 1 || attempts[0].ResponseStatusCode != http.StatusAccepted || attempts[0].Response != `{"ok":true}` {
		t.Fatalf("attempts = %+v, want one 202 attempt", attempts)
	}
}
