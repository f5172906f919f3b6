package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
)

const defaultVisibility = 5 * time.Minute

// claimScript first returns expired in-flight members to the ready set, then
// moves up to ARGV[3] due members into the processing set scored by their
// visibility deadline.
var claimScript = goredis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, member in ipairs(expired) do
  redis.call("ZREM", KEYS[2], member)
  redis.call("ZADD", KEYS[1], ARGV[1], member)
end
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
for _, member in ipairs(due) do
  redis.call("ZREM", KEYS[1], member)
  redis.call("ZADD", KEYS[2], ARGV[2], member)
end
return due
`)

// nackScript requeues a member only if this consumer still owns it.
var nackScript = goredis.NewScript(`
if redis.call("ZREM", KEYS[2], ARGV[2]) == 1 then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

type RedisQueueOptions struct {
	Options
	Name string
	// Visibility is how long a claimed task may stay unacked before another
	// consumer reclaims it.
	Visibility time.Duration
}

// RedisQueue keeps pending tasks in a sorted set scored by due time. Claimed
// tasks move to a processing set until acked.
type RedisQueue struct {
	client        *goredis.Client
	readyKey      string
	processingKey string
	opts          Options
	visibility    time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

var _ TaskQueue = (*RedisQueue)(nil)

func NewRedisQueue(client *goredis.Client, opts RedisQueueOptions, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if opts.Visibility <= 0 {
		opts.Visibility = defaultVisibility
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:        client,
		readyKey:      fmt.Sprintf("hookline:queue:%s:ready", name),
		processingKey: fmt.Sprintf("hookline:queue:%s:processing", name),
		opts:          opts.Options.withDefaults(),
		visibility:    opts.Visibility,
		now:           time.Now,
		logger:        logger,
	}, nil
}

func (q *RedisQueue) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	due := q.now().Add(delay)
	_, payload, err := encodeEnvelope(ctx, task, due)
	if err != nil {
		return err
	}

	err = q.client.ZAdd(ctx, q.readyKey, goredis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) ReceiveBatch(ctx context.Context) ([]*Delivery, error) {
	deadline := time.Now().Add(q.opts.BlockTimeout)

	for {
		batch, err := q.claim(ctx)
		if err != nil || len(batch) > 0 {
			return batch, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if err := sleepWithContext(ctx, q.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) Close() error {
	return nil
}

func (q *RedisQueue) claim(ctx context.Context) ([]*Delivery, error) {
	now := q.now()
	members, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey, q.processingKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.visibility).UnixMilli(), 10),
		q.opts.BatchSize,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}

	batch := make([]*Delivery, 0, len(members))
	for _, member := range members {
		env, task, err := decodeEnvelope([]byte(member))
		if err != nil {
			q.logger.Warn("dropping undecodable queue task", zap.Error(err))
			if remErr := q.client.ZRem(ctx, q.processingKey, member).Err(); remErr != nil {
				return nil, fmt.Errorf("failed to drop invalid task: %w", remErr)
			}
			continue
		}

		batch = append(batch, NewDelivery(env.ID, task, env.Trace, q.ackFunc(member), q.nackFunc(member)))
	}
	return batch, nil
}

func (q *RedisQueue) ackFunc(member string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := q.client.ZRem(ctx, q.processingKey, member).Err(); err != nil {
			return fmt.Errorf("failed to ack task: %w", err)
		}
		return nil
	}
}

func (q *RedisQueue) nackFunc(member string) func(context.Context) error {
	return func(ctx context.Context) error {
		err := nackScript.Run(ctx, q.client,
			[]string{q.readyKey, q.processingKey},
			strconv.FormatInt(q.now().UnixMilli(), 10),
			member,
		).Err()
		if err != nil {
			return fmt.Errorf("failed to nack task: %w", err)
		}
		return nil
	}
}
