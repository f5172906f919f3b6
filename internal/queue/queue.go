package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
)

const (
	defaultBatchSize    = 50
	defaultBlockTimeout = time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// Producer enqueues a task that must not be delivered before delay elapses.
type Producer interface {
	Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error
}

// Consumer hands out tasks at least once. An empty batch with a nil error
// means nothing was due within the backend's block timeout.
type Consumer interface {
	ReceiveBatch(ctx context.Context) ([]*Delivery, error)
}

type TaskQueue interface {
	Producer
	Consumer
	Close() error
}

// Delivery is one received task. Exactly one of Ack or Nack should be called;
// a nacked task is redelivered.
type Delivery struct {
	ID    string
	Task  domain.QueueTask
	Trace map[string]string

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

func NewDelivery(id string, task domain.QueueTask, trace map[string]string, ack func(ctx context.Context) error, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{
		ID:    id,
		Task:  task,
		Trace: trace,
		ack:   ack,
		nack:  nack,
	}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.ack == nil {
		return fmt.Errorf("delivery cannot be acked")
	}
	return d.ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context) error {
	if d == nil || d.nack == nil {
		return fmt.Errorf("delivery cannot be nacked")
	}
	return d.nack(ctx)
}

// Options holds the consumer tuning shared by every backend.
type Options struct {
	BatchSize    int
	BlockTimeout time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = defaultBatchSize
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = defaultBlockTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
