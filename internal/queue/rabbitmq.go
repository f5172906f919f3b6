package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// delayedExchangeName needs the rabbitmq_delayed_message_exchange plugin.
	delayedExchangeName = "hookline.delayed"
	delayHeader         = "x-delay"
	minDialBackoff      = time.Second
	maxDialBackoff      = 30 * time.Second
	initialDialTimeout  = 15 * time.Second
)

type dialFunc func(url string) (*amqp.Connection, error)

// RabbitMQ owns one AMQP connection and redials it with exponential backoff
// whenever a channel is requested on a closed connection.
type RabbitMQ struct {
	url       string
	queueName string
	dial      dialFunc
	logger    *zap.Logger

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(url string, queueName string, logger *zap.Logger) (*RabbitMQ, error) {
	r, err := newRabbitMQ(url, queueName, amqp.Dial, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initialDialTimeout)
	defer cancel()
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func newRabbitMQ(url string, queueName string, dial dialFunc, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQ{
		url:       url,
		queueName: queueName,
		dial:      dial,
		logger:    logger.With(zap.String("queue", queueName)),
	}, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel with the task topology declared. A failed Channel
// call on a live-looking connection forces one redial.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Warn("rabbitmq channel open failed, redialing", zap.Error(err))
		r.drop(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after redial: %w", err)
		}
	}

	if err := declareTopology(ch, r.queueName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

// connection returns the live connection, dialing until ctx is done.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.current(); conn != nil {
		return conn, nil
	}

	wait := minDialBackoff
	for attempt := 1; ; attempt++ {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempt", attempt))
			}
			return conn, nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, fmt.Errorf("rabbitmq dial canceled: %w", err)
		}
		wait = nextDialBackoff(wait)
	}
}

func nextDialBackoff(current time.Duration) time.Duration {
	return min(current*2, maxDialBackoff)
}

// declareTopology binds the task queue to the delayed exchange with the queue
// name as routing key.
func declareTopology(ch *amqp.Channel, queueName string) error {
	err := ch.ExchangeDeclare(delayedExchangeName, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "direct"})
	if err != nil {
		return fmt.Errorf("failed to declare delayed exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}

	if err := ch.QueueBind(queueName, queueName, delayedExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", queueName, err)
	}
	return nil
}
