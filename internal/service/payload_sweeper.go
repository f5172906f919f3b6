package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/repository"
)

const (
	defaultSweepInterval = time.Hour
	defaultSweepLimit    = 1000
)

// PayloadSweeper periodically scrubs payloads of messages past their
// expiration. Message rows and attempts are kept.
type PayloadSweeper struct {
	messages repository.MessageRepository
	logger   *zap.Logger
	interval time.Duration
	limit    int
	now      func() time.Time
}

func NewPayloadSweeper(
	messages repository.MessageRepository,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*PayloadSweeper, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PayloadSweeper{
		messages: messages,
		logger:   logger,
		interval: interval,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (s *PayloadSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("payload sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("payload sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep scrubs batches until one comes back short, so a backlog is cleared in
// a single run.
func (s *PayloadSweeper) sweep(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := s.messages.ScrubExpiredPayloads(ctx, s.now().UTC(), s.limit)
		if err != nil {
			return total, fmt.Errorf("failed to scrub expired payloads: %w", err)
		}
		total += n
		if n < int64(s.limit) || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired payloads scrubbed", zap.Int64("count", total))
	}
	return total, nil
}
