package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

func TestNewHealthProberValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHealthProber(nil, time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error when producer is nil")
	}
}

func TestHealthProberProbe(t *testing.T) {
	t.Parallel()

	producer := &fakeProducer{}
	prober, err := NewHealthProber(producer, 30*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHealthProber() error = %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	prober.now = func() time.Time { return now }

	if prober.Healthy() {
		t.Fatal("Healthy() = true before any probe")
	}

	prober.probe(context.Background())

	sent := producer.tasks()
	if len(sent) != 1 {
		t.Fatalf("enqueued tasks = %d, want 1", len(sent))
	}
	if _, ok := sent[0].task.(domain.HealthCheckTask); !ok {
		t.Fatalf("task type = %T, want HealthCheckTask", sent[0].task)
	}
	if !prober.Healthy() {
		t.Fatal("Healthy() = false after a successful probe")
	}
	if !prober.LastSuccess().Equal(now) {
		t.Fatalf("LastSuccess() = %v, want %v", prober.LastSuccess(), now)
	}

	now = now.Add(61 * time.Second)
	if prober.Healthy() {
		t.Fatal("Healthy() = true with a stale probe")
	}
}

func TestHealthProberFailureMarksUnhealthy(t *testing.T) {
	t.Parallel()

	fail := false
	producer := &fakeProducer{
		sendFn: func(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
			if fail {
				return errors.New("queue down")
			}
			return nil
		},
	}
	prober, err := NewHealthProber(producer, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHealthProber() error = %v", err)
	}

	prober.probe(context.Background())
	if !prober.Healthy() {
		t.Fatal("Healthy() = false after a successful probe")
	}

	fail = true
	prober.probe(context.Background())
	if prober.Healthy() {
		t.Fatal("Healthy() = true after a failed probe")
	}
}

func TestHealthProberStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	producer := &fakeProducer{}
	prober, err := NewHealthProber(producer, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHealthProber() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	if err := prober.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if n := len(producer.tasks()); n < 2 {
		t.Fatalf("probes = %d, want at least 2", n)
	}
}
