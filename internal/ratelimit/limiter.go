package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles deliveries per key. perSecond is the limit of that key;
// values <= 0 mean unlimited.
type Limiter interface {
	Wait(ctx context.Context, key string, perSecond int) error
}

type localEntry struct {
	perSecond int
	limiter   *rate.Limiter
}

// LocalLimiter keeps one token bucket per key in process memory. Buckets are
// rebuilt when the configured limit of a key changes.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

var _ Limiter = (*LocalLimiter)(nil)

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{entries: make(map[string]*localEntry)}
}

func (l *LocalLimiter) Wait(ctx context.Context, key string, perSecond int) error {
	if perSecond <= 0 {
		return nil
	}

	limiter, err := l.limiterFor(key, perSecond)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalLimiter) Allow(key string, perSecond int) (bool, error) {
	if perSecond <= 0 {
		return true, nil
	}

	limiter, err := l.limiterFor(key, perSecond)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalLimiter) limiterFor(key string, perSecond int) (*rate.Limiter, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || entry.perSecond != perSecond {
		entry = &localEntry{
			perSecond: perSecond,
			limiter:   rate.NewLimiter(rate.Limit(perSecond), perSecond),
		}
		l.entries[key] = entry
	}
	return entry.limiter, nil
}

// Unlimited never waits.
type Unlimited struct{}

func (Unlimited) Wait(context.Context, string, int) error { return nil }
