package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kursadbilgin/hookline/internal/ratelimit"
)

const (
	rateWindow     = time.Second
	minWaitBetween = 5 * time.Millisecond
	keyPrefix      = "hookline:ratelimit"
)

// reserveScript keeps one ZSET member per granted request scored by its
// millisecond timestamp. It returns 0 when the request fits in the trailing
// window, otherwise the milliseconds until the oldest member leaves it.
var reserveScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) < limit then
  redis.call("ZADD", key, now, ARGV[4])
  redis.call("PEXPIRE", key, window)
  return 0
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return tonumber(oldest[2]) + window - now
`)

var _ ratelimit.Limiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a sliding one-second window shared by every worker
// process. Keys are endpoint ids.
type RedisRateLimiter struct {
	client *goredis.Client
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{client: client, now: nowFn, sleep: sleepFn}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, perSecond int) (bool, error) {
	wait, err := r.reserve(ctx, key, perSecond)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until a slot in the endpoint's window is granted.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string, perSecond int) error {
	for {
		wait, err := r.reserve(ctx, key, perSecond)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, max(wait, minWaitBetween)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, key string, perSecond int) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	if perSecond <= 0 {
		return 0, nil
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}

	nowMs := r.now().UnixMilli()
	waitMs, err := reserveScript.Run(ctx, r.client,
		[]string{keyPrefix + ":" + key},
		nowMs, rateWindow.Milliseconds(), perSecond, uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
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
