package queue

import (
	"context"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/observability"
)

type instrumentedQueue struct {
	TaskQueue
	metrics *observability.Metrics
}

// WithMetrics counts send, receive, ack and nack outcomes of q.
func WithMetrics(q TaskQueue, metrics *observability.Metrics) TaskQueue {
	if metrics == nil {
		return q
	}
	return &instrumentedQueue{TaskQueue: q, metrics: metrics}
}

func (q *instrumentedQueue) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	err := q.TaskQueue.Send(ctx, task, delay)
	q.metrics.IncQueueTask("send", err)
	return err
}

func (q *instrumentedQueue) ReceiveBatch(ctx context.Context) ([]*Delivery, error) {
	batch, err := q.TaskQueue.ReceiveBatch(ctx)
	if err != nil {
		q.metrics.IncQueueTask("receive", err)
		return nil, err
	}

	for _, d := range batch {
		q.metrics.IncQueueTask("receive", nil)
		ack, nack := d.ack, d.nack
		d.ack = func(ctx context.Context) error {
			err := ack(ctx)
			q.metrics.IncQueueTask("ack", err)
			return err
		}
		d.nack = func(ctx context.Context) error {
			err := nack(ctx)
			q.metrics.IncQueueTask("nack", err)
			return err
		}
	}
	return batch, nil
}
