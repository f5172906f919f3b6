package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/repository"
)

const defaultMaxRecoveryWindow = 14 * 24 * time.Hour

// AttemptService drives operator-initiated deliveries.
type AttemptService struct {
	apps         repository.ApplicationRepository
	messages     repository.MessageRepository
	endpoints    repository.EndpointRepository
	destinations repository.DestinationRepository
	attempts     repository.AttemptRepository
	producer     queue.Producer
	maxRecovery  time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewAttemptService(
	apps repository.ApplicationRepository,
	messages repository.MessageRepository,
	endpoints repository.EndpointRepository,
	destinations repository.DestinationRepository,
	attempts repository.AttemptRepository,
	producer queue.Producer,
	maxRecovery time.Duration,
	logger *zap.Logger,
) (*AttemptService, error) {
	if apps == nil || messages == nil || endpoints == nil || destinations == nil || attempts == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if producer == nil {
		return nil, fmt.Errorf("queue producer is required")
	}
	if maxRecovery <= 0 {
		maxRecovery = defaultMaxRecoveryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AttemptService{
		apps:         apps,
		messages:     messages,
		endpoints:    endpoints,
		destinations: destinations,
		attempts:     attempts,
		producer:     producer,
		maxRecovery:  maxRecovery,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Resend enqueues a manual delivery of an existing destination. It does not
// touch the destination status; the dispatcher settles it.
func (s *AttemptService) Resend(ctx context.Context, orgID string, appID string, msgID string, endpointID string) error {
	msg, err := s.message(ctx, orgID, appID, msgID)
	if err != nil {
		return err
	}
	if _, err := s.endpoints.GetByID(ctx, appID, endpointID); err != nil {
		return err
	}
	if _, err := s.destinations.GetByMessageAndEndpoint(ctx, msg.ID, endpointID); err != nil {
		return err
	}

	task := domain.MessageTask{
		MsgID:        msg.ID,
		AppID:        appID,
		EndpointID:   endpointID,
		AttemptCount: 0,
		TriggerType:  domain.TriggerManual,
	}
	if err := s.producer.Send(ctx, task, 0); err != nil {
		return fmt.Errorf("failed to enqueue resend: %w", err)
	}

	s.logger.Info("manual resend enqueued",
		zap.String("msgId", msg.ID),
		zap.String("endpointId", endpointID),
	)
	return nil
}

// Recover enqueues a manual delivery for every failed destination of the
// endpoint created at or after since, and returns how many were enqueued.
func (s *AttemptService) Recover(ctx context.Context, orgID string, appID string, endpointID string, since time.Time) (int, error) {
	if since.Before(s.now().Add(-s.maxRecovery)) {
		return 0, fmt.Errorf("%w: cannot recover messages older than %s", domain.ErrValidation, s.maxRecovery)
	}
	if _, err := s.apps.GetByID(ctx, orgID, appID); err != nil {
		return 0, err
	}
	if _, err := s.endpoints.GetByID(ctx, appID, endpointID); err != nil {
		return 0, err
	}

	failed, err := s.destinations.ListFailedSince(ctx, endpointID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed destinations: %w", err)
	}

	for i, dest := range failed {
		task := domain.MessageTask{
			MsgID:        dest.MsgID,
			AppID:        appID,
			EndpointID:   endpointID,
			AttemptCount: 0,
			TriggerType:  domain.TriggerManual,
		}
		if err := s.producer.Send(ctx, task, 0); err != nil {
			return i, fmt.Errorf("failed to enqueue recovery of %s: %w", dest.MsgID, err)
		}
	}

	s.logger.Info("endpoint recovery enqueued",
		zap.String("endpointId", endpointID),
		zap.Time("since", since),
		zap.Int("count", len(failed)),
	)
	return len(failed), nil
}

func (s *AttemptService) ListByMessage(ctx context.Context, orgID string, appID string, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	msg, err := s.message(ctx, orgID, appID, msgID)
	if err != nil {
		return nil, err
	}
	return s.attempts.ListByMessage(ctx, msg.ID, filter)
}

func (s *AttemptService) message(ctx context.Context, orgID string, appID string, msgID string) (*domain.Message, error) {
	if _, err := s.apps.GetByID(ctx, orgID, appID); err != nil {
		return nil, err
	}
	msg, err := s.messages.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.AppID != appID {
		return nil, domain.ErrNotFound
	}
	return msg, nil
}
