package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func (q *RabbitMQQueue) ReceiveBatch(ctx context.Context) ([]*Delivery, error) {
	if q == nil || q.client == nil {
		return nil, fmt.Errorf("rabbitmq queue is not initialized")
	}

	deliveries, err := q.consume(ctx)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(q.opts.BlockTimeout)
	defer timer.Stop()

	batch := make([]*Delivery, 0, q.opts.BatchSize)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsumer()
			return nil, fmt.Errorf("delivery channel closed")
		}
		batch = q.appendDelivery(batch, d)
	}

drain:
	for len(batch) < q.opts.BatchSize {
		select {
		case d, ok := <-deliveries:
			if !ok {
				q.resetConsumer()
				break drain
			}
			batch = q.appendDelivery(batch, d)
		default:
			break drain
		}
	}

	return batch, nil
}

// consume lazily opens the consumer channel, prefetching one batch.
func (q *RabbitMQQueue) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumerCh != nil && !q.consumerCh.IsClosed() && q.deliveries != nil {
		return q.deliveries, nil
	}

	ch, err := q.client.channel(ctx)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(q.opts.BatchSize, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		q.client.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume queue %q: %w", q.client.queueName, err)
	}

	q.consumerCh = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitMQQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumerCh != nil {
		_ = q.consumerCh.Close()
	}
	q.consumerCh = nil
	q.deliveries = nil
}

func (q *RabbitMQQueue) appendDelivery(batch []*Delivery, d amqp.Delivery) []*Delivery {
	env, task, err := decodeEnvelope(d.Body)
	if err != nil {
		q.logger.Warn("rejecting undecodable queue task",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			q.logger.Error("failed to reject invalid task", zap.Error(rejectErr))
		}
		return batch
	}

	delivery := d
	return append(batch, NewDelivery(env.ID, task, env.Trace,
		func(context.Context) error {
			if err := delivery.Ack(false); err != nil {
				return fmt.Errorf("failed to ack delivery: %w", err)
			}
			return nil
		},
		func(context.Context) error {
			if err := delivery.Nack(false, true); err != nil {
				return fmt.Errorf("failed to nack delivery: %w", err)
			}
			return nil
		},
	))
}
