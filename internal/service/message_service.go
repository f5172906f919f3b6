package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/delivery"
	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/queue"
	"github.com/kursadbilgin/hookline/internal/repository"
)

// MessageIn is a message as submitted by a publisher.
type MessageIn struct {
	UID       *string
	EventType string
	Payload   json.RawMessage
	Channels  []string
	// PayloadRetention overrides the service default when positive.
	PayloadRetention time.Duration
}

type MessageService struct {
	messages    repository.MessageRepository
	snapshots   SnapshotFetcher
	producer    queue.Producer
	snapshotTTL time.Duration
	retention   time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewMessageService(
	messages repository.MessageRepository,
	snapshots SnapshotFetcher,
	producer queue.Producer,
	snapshotTTL time.Duration,
	retention time.Duration,
	logger *zap.Logger,
) (*MessageService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot fetcher is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("queue producer is required")
	}
	if snapshotTTL <= 0 {
		snapshotTTL = defaultSnapshotTTL
	}
	if retention <= 0 {
		retention = domain.DefaultPayloadRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MessageService{
		messages:    messages,
		snapshots:   snapshots,
		producer:    producer,
		snapshotTTL: snapshotTTL,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Create stores a message and fans it out. When the uid is already taken in
// the application, the stored message is returned with existing set to true
// and nothing is enqueued.
func (s *MessageService) Create(ctx context.Context, orgID string, appID string, in MessageIn) (msg *domain.Message, existing bool, err error) {
	if strings.TrimSpace(appID) == "" {
		return nil, false, fmt.Errorf("%w: application id is required", domain.ErrValidation)
	}
	if orgID == "" {
		orgID = domain.DefaultOrgID
	}

	now := s.now().UTC()
	retention := s.retention
	if in.PayloadRetention > 0 {
		retention = in.PayloadRetention
	}

	msg = &domain.Message{
		ID:         domain.NewMessageID(),
		AppID:      appID,
		OrgID:      orgID,
		UID:        normalizeOptionalString(in.UID),
		EventType:  strings.TrimSpace(in.EventType),
		Payload:    in.Payload,
		Channels:   in.Channels,
		CreatedAt:  now,
		Expiration: now.Add(retention),
	}
	if err := msg.Validate(); err != nil {
		return nil, false, err
	}

	snapshot, err := s.snapshots.LayeredFetch(ctx, appID, orgID, s.snapshotTTL)
	if err != nil {
		return nil, false, err
	}

	if msg.UID != nil {
		found, err := s.messages.GetByUID(ctx, appID, *msg.UID)
		if err == nil {
			return found, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up message uid: %w", err)
		}
	}

	if err := s.EnqueueFanout(ctx, msg, snapshot); err != nil {
		if msg.UID != nil && errors.Is(err, domain.ErrConflict) {
			return s.resolveUIDConflict(ctx, appID, *msg.UID)
		}
		return nil, false, err
	}
	return msg, false, nil
}

// EnqueueFanout persists msg with one Sending destination per matching
// endpoint and, once committed, enqueues the first attempt of each.
func (s *MessageService) EnqueueFanout(ctx context.Context, msg *domain.Message, snapshot *domain.ApplicationSnapshot) error {
	if msg == nil || snapshot == nil {
		return fmt.Errorf("%w: message and snapshot are required", domain.ErrValidation)
	}

	selected := delivery.SelectEndpoints(msg, snapshot.Endpoints, domain.TriggerScheduled)
	now := s.now().UTC()

	destinations := make([]domain.MessageDestination, 0, len(selected))
	for _, endpoint := range selected {
		destinations = append(destinations, domain.NewSendingDestination(msg.ID, endpoint.ID, now))
	}

	if err := s.messages.CreateWithDestinations(ctx, msg, destinations); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	for _, dest := range destinations {
		task := domain.MessageTask{
			MsgID:        msg.ID,
			AppID:        msg.AppID,
			EndpointID:   dest.EndpointID,
			AttemptCount: 0,
			TriggerType:  domain.TriggerScheduled,
		}
		if err := s.producer.Send(ctx, task, 0); err != nil {
			s.logger.Error("failed to enqueue message task",
				zap.String("msgId", msg.ID),
				zap.String("endpointId", dest.EndpointID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to enqueue message task: %w", err)
		}
	}

	s.logger.Debug("message fanned out",
		zap.String("msgId", msg.ID),
		zap.String("appId", msg.AppID),
		zap.Int("destinations", len(destinations)),
	)
	return nil
}

func (s *MessageService) Get(ctx context.Context, appID string, msgID string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, strings.TrimSpace(msgID))
	if err != nil {
		return nil, err
	}
	if msg.AppID != appID {
		return nil, domain.ErrNotFound
	}
	return msg, nil
}

func (s *MessageService) resolveUIDConflict(ctx context.Context, appID string, uid string) (*domain.Message, bool, error) {
	found, err := s.messages.GetByUID(ctx, appID, uid)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing message after uid conflict: %w", err)
	}
	s.logger.Info("message uid conflict resolved",
		zap.String("existingId", found.ID),
		zap.String("uid", uid),
	)
	return found, true, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
