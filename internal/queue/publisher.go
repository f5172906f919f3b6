package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// RabbitMQQueue publishes through the delayed-message exchange and consumes
// the bound work queue with manual acknowledgements.
type RabbitMQQueue struct {
	client *RabbitMQ
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	consumerCh *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ TaskQueue = (*RabbitMQQueue)(nil)

func NewRabbitMQQueue(client *RabbitMQ, opts Options, logger *zap.Logger) *RabbitMQQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQQueue{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

func (q *RabbitMQQueue) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("rabbitmq queue is not initialized")
	}
	if delay < 0 {
		delay = 0
	}

	now := q.now().UTC()
	id, payload, err := encodeEnvelope(ctx, task, now.Add(delay))
	if err != nil {
		return err
	}

	ch, err := q.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		MessageId:    id,
		Type:         string(task.Kind()),
		Headers:      amqp.Table{delayHeader: delay.Milliseconds()},
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, delayedExchangeName, q.client.queueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish task to queue %q: %w", q.client.queueName, err)
	}

	return nil
}

func (q *RabbitMQQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}

	q.mu.Lock()
	if q.consumerCh != nil {
		_ = q.consumerCh.Close()
		q.consumerCh = nil
		q.deliveries = nil
	}
	q.mu.Unlock()

	return q.client.Close()
}
