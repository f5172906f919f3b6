package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// maxNSQDeferral stays under nsqd's default --max-req-timeout. Longer delays
// are split into several deferrals using the envelope due time.
const maxNSQDeferral = time.Hour

// nsqResponder is the part of *nsq.Message the batch builder answers through.
type nsqResponder interface {
	Finish()
	Requeue(delay time.Duration)
	RequeueWithoutBackoff(delay time.Duration)
}

// newNSQConsumerConfig disables nsq's attempt limit. Early arrivals of long
// delays and nacks both bump Attempts, and a message over the limit would be
// finished without reaching the handler. Retry policy lives in the dispatcher.
func newNSQConsumerConfig(batchSize int) *nsq.Config {
	conf := nsq.NewConfig()
	conf.MaxInFlight = batchSize
	conf.MaxAttempts = 0
	return conf
}

// redeferDelay is how long a message that arrived before its due time goes
// back to nsqd for. Zero means the task is due.
func redeferDelay(due time.Time, now time.Time) time.Duration {
	remaining := due.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return min(remaining, maxNSQDeferral)
}

type NSQQueueOptions struct {
	Options
	Topic       string
	Channel     string
	NSQDAddr    string
	LookupdAddr string
}

// NSQQueue publishes with DeferredPublish and consumes with auto response
// disabled, so each message is finished or requeued explicitly.
type NSQQueue struct {
	topic    string
	opts     Options
	producer *nsq.Producer
	consumer *nsq.Consumer
	messages chan *nsq.Message
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
	now      func() time.Time
}

var _ TaskQueue = (*NSQQueue)(nil)

func NewNSQQueue(opts NSQQueueOptions, logger *zap.Logger) (*NSQQueue, error) {
	if strings.TrimSpace(opts.NSQDAddr) == "" {
		return nil, fmt.Errorf("nsqd address is required")
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, fmt.Errorf("nsq topic is required")
	}
	if strings.TrimSpace(opts.Channel) == "" {
		opts.Channel = "workers"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := opts.Options.withDefaults()

	producer, err := nsq.NewProducer(opts.NSQDAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	producer.SetLogger(nsqLogger{logger: logger}, nsq.LogLevelWarning)

	consumer, err := nsq.NewConsumer(opts.Topic, opts.Channel, newNSQConsumerConfig(base.BatchSize))
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to create nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{logger: logger}, nsq.LogLevelWarning)

	q := &NSQQueue{
		topic:    opts.Topic,
		opts:     base,
		producer: producer,
		consumer: consumer,
		messages: make(chan *nsq.Message, base.BatchSize),
		done:     make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
	consumer.AddHandler(nsq.HandlerFunc(q.handleMessage))

	if opts.LookupdAddr != "" {
		err = consumer.ConnectToNSQLookupd(opts.LookupdAddr)
	} else {
		err = consumer.ConnectToNSQD(opts.NSQDAddr)
	}
	if err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("failed to connect nsq consumer: %w", err)
	}

	return q, nil
}

func (q *NSQQueue) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	_, payload, err := encodeEnvelope(ctx, task, q.now().Add(delay))
	if err != nil {
		return err
	}

	if delay == 0 {
		err = q.producer.Publish(q.topic, payload)
	} else {
		err = q.producer.DeferredPublish(q.topic, min(delay, maxNSQDeferral), payload)
	}
	if err != nil {
		return fmt.Errorf("failed to publish task to topic %q: %w", q.topic, err)
	}
	return nil
}

func (q *NSQQueue) ReceiveBatch(ctx context.Context) ([]*Delivery, error) {
	timer := time.NewTimer(q.opts.BlockTimeout)
	defer timer.Stop()

	batch := make([]*Delivery, 0, q.opts.BatchSize)

	for len(batch) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, fmt.Errorf("nsq queue is closed")
		case <-timer.C:
			return nil, nil
		case m := <-q.messages:
			batch = q.appendMessage(batch, m.Body, m)
		}
	}

drain:
	for len(batch) < q.opts.BatchSize {
		select {
		case m := <-q.messages:
			batch = q.appendMessage(batch, m.Body, m)
		default:
			break drain
		}
	}

	return batch, nil
}

func (q *NSQQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
		q.consumer.Stop()
		q.requeueBuffered()
		<-q.consumer.StopChan
		q.producer.Stop()
	})
	return nil
}

func (q *NSQQueue) requeueBuffered() {
	for {
		select {
		case m := <-q.messages:
			m.Requeue(-1)
		default:
			return
		}
	}
}

func (q *NSQQueue) handleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()

	select {
	case q.messages <- m:
	case <-q.done:
		m.Requeue(-1)
	}
	return nil
}

func (q *NSQQueue) appendMessage(batch []*Delivery, body []byte, m nsqResponder) []*Delivery {
	env, task, err := decodeEnvelope(body)
	if err != nil {
		q.logger.Warn("finishing undecodable queue task", zap.Error(err))
		m.Finish()
		return batch
	}

	// Deferrals are capped, so a long delay can arrive early.
	if delay := redeferDelay(env.due(), q.now()); delay > 0 {
		m.RequeueWithoutBackoff(delay)
		return batch
	}

	return append(batch, NewDelivery(env.ID, task, env.Trace,
		func(context.Context) error {
			m.Finish()
			return nil
		},
		func(context.Context) error {
			m.Requeue(-1)
			return nil
		},
	))
}

type nsqLogger struct {
	logger *zap.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	l.logger.Warn("nsq", zap.String("message", s))
	return nil
}
