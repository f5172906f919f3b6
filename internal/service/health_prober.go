package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/queue"
)

const defaultHealthProbeInterval = 30 * time.Second

// HealthProber periodically pushes a HealthCheckTask through the queue and
// records when the last send succeeded.
type HealthProber struct {
	producer queue.Producer
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	lastSuccess time.Time
	lastErr     error
}

func NewHealthProber(producer queue.Producer, interval time.Duration, logger *zap.Logger) (*HealthProber, error) {
	if producer == nil {
		return nil, fmt.Errorf("queue producer is required")
	}
	if interval <= 0 {
		interval = defaultHealthProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthProber{
		producer: producer,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}, nil
}

func (p *HealthProber) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Probe once up front so readiness does not wait for the first tick.
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *HealthProber) probe(ctx context.Context) {
	err := p.producer.Send(ctx, domain.HealthCheckTask{}, 0)
	if err != nil && ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.logger.Error("queue health probe failed", zap.Error(err))
		return
	}
	p.lastSuccess = p.now()
}

// Healthy reports whether a probe succeeded within two intervals and the
// most recent one did not fail.
func (p *HealthProber) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.lastErr != nil || p.lastSuccess.IsZero() {
		return false
	}
	return p.now().Sub(p.lastSuccess) <= 2*p.interval
}

func (p *HealthProber) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}
