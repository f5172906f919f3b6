package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/opevents"
	"github.com/kursadbilgin/hookline/internal/repository"
	"github.com/kursadbilgin/hookline/internal/signing"
)

// SnapshotInvalidator drops cached application snapshots after writes.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, orgID string, appID string) error
}

// EndpointUpdate carries the fields of an endpoint update. Nil fields are
// left unchanged; ClearEventTypes and ClearChannels remove the filters.
type EndpointUpdate struct {
	UID             *string
	URL             *string
	Description     *string
	EventTypes      []string
	ClearEventTypes bool
	Channels        []string
	ClearChannels   bool
	Headers         map[string]string
	Disabled        *bool
	RateLimit       *int
}

type ApplicationService struct {
	apps      repository.ApplicationRepository
	endpoints repository.EndpointRepository
	cache     SnapshotInvalidator
	emitter   opevents.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

func NewApplicationService(
	apps repository.ApplicationRepository,
	endpoints repository.EndpointRepository,
	cache SnapshotInvalidator,
	emitter opevents.Emitter,
	logger *zap.Logger,
) (*ApplicationService, error) {
	if apps == nil || endpoints == nil {
		return nil, fmt.Errorf("application and endpoint repositories are required")
	}
	if emitter == nil {
		emitter = opevents.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ApplicationService{
		apps:      apps,
		endpoints: endpoints,
		cache:     cache,
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *ApplicationService) CreateApplication(ctx context.Context, app *domain.Application) error {
	if app == nil {
		return fmt.Errorf("%w: application is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	app.ID = domain.NewApplicationID()
	app.Name = strings.TrimSpace(app.Name)
	app.UID = normalizeOptionalString(app.UID)
	if app.OrgID == "" {
		app.OrgID = domain.DefaultOrgID
	}
	app.CreatedAt = now
	app.UpdatedAt = now

	if err := app.Validate(); err != nil {
		return err
	}
	return s.apps.Create(ctx, app)
}

func (s *ApplicationService) GetApplication(ctx context.Context, orgID string, appID string) (*domain.Application, error) {
	return s.apps.GetByID(ctx, orgID, appID)
}

// CreateEndpoint registers ep on the application. A signing key is generated
// when ep.Key is empty.
func (s *ApplicationService) CreateEndpoint(ctx context.Context, orgID string, appID string, ep *domain.Endpoint) error {
	if ep == nil {
		return fmt.Errorf("%w: endpoint is required", domain.ErrValidation)
	}
	app, err := s.apps.GetByID(ctx, orgID, appID)
	if err != nil {
		return err
	}

	if ep.Key == "" {
		key, err := signing.GenerateHMACKey()
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		ep.Key = key.String()
	} else if _, err := signing.ParseKey(ep.Key); err != nil {
		return err
	}

	now := s.now().UTC()
	ep.ID = domain.NewEndpointID()
	ep.AppID = app.ID
	ep.UID = normalizeOptionalString(ep.UID)
	ep.OldKeys = nil
	ep.Deleted = false
	ep.CreatedAt = now
	ep.UpdatedAt = now

	if err := ep.Validate(); err != nil {
		return err
	}
	if err := s.endpoints.Create(ctx, ep); err != nil {
		return err
	}

	s.afterEndpointWrite(ctx, *app, *ep, opevents.EndpointCreated)
	return nil
}

func (s *ApplicationService) GetEndpoint(ctx context.Context, orgID string, appID string, endpointID string) (*domain.Endpoint, error) {
	if _, err := s.apps.GetByID(ctx, orgID, appID); err != nil {
		return nil, err
	}
	return s.endpoints.GetByID(ctx, appID, endpointID)
}

func (s *ApplicationService) ListEndpoints(ctx context.Context, orgID string, appID string) ([]domain.Endpoint, error) {
	if _, err := s.apps.GetByID(ctx, orgID, appID); err != nil {
		return nil, err
	}
	return s.endpoints.ListByApp(ctx, appID)
}

// UpdateEndpoint applies update and emits endpoint.updated, plus
// endpoint.disabled when the update disables a live endpoint.
func (s *ApplicationService) UpdateEndpoint(ctx context.Context, orgID string, appID string, endpointID string, update EndpointUpdate) (*domain.Endpoint, error) {
	app, err := s.apps.GetByID(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	ep, err := s.endpoints.GetByID(ctx, appID, endpointID)
	if err != nil {
		return nil, err
	}
	wasDisabled := ep.Disabled

	if update.UID != nil {
		ep.UID = normalizeOptionalString(update.UID)
	}
	if update.URL != nil {
		ep.URL = strings.TrimSpace(*update.URL)
	}
	if update.Description != nil {
		ep.Description = *update.Description
	}
	switch {
	case update.ClearEventTypes:
		ep.EventTypes = nil
	case update.EventTypes != nil:
		ep.EventTypes = update.EventTypes
	}
	switch {
	case update.ClearChannels:
		ep.Channels = nil
	case update.Channels != nil:
		ep.Channels = update.Channels
	}
	if update.Headers != nil {
		ep.Headers = update.Headers
	}
	if update.Disabled != nil {
		ep.Disabled = *update.Disabled
	}
	if update.RateLimit != nil {
		ep.RateLimit = update.RateLimit
	}
	ep.UpdatedAt = s.now().UTC()

	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if err := s.endpoints.Update(ctx, ep); err != nil {
		return nil, err
	}

	s.afterEndpointWrite(ctx, *app, *ep, opevents.EndpointUpdated)
	if ep.Disabled && !wasDisabled {
		s.emitter.Emit(ctx, app.OrgID, opevents.Event{
			Type: opevents.EndpointDisabled,
			Data: opevents.EndpointDisabledData{
				EndpointData: opevents.EndpointData{
					AppID:       app.ID,
					AppUID:      app.UID,
					EndpointID:  ep.ID,
					EndpointUID: ep.UID,
				},
				FailSince: ep.UpdatedAt,
			},
		})
	}
	return ep, nil
}

func (s *ApplicationService) DeleteEndpoint(ctx context.Context, orgID string, appID string, endpointID string) error {
	app, err := s.apps.GetByID(ctx, orgID, appID)
	if err != nil {
		return err
	}
	ep, err := s.endpoints.GetByID(ctx, appID, endpointID)
	if err != nil {
		return err
	}
	if err := s.endpoints.Delete(ctx, appID, endpointID); err != nil {
		return err
	}

	ep.Deleted = true
	s.afterEndpointWrite(ctx, *app, *ep, opevents.EndpointDeleted)
	return nil
}

// RotateSecret replaces the signing key. The previous key keeps signing for
// domain.OldSigningKeyTTL. An empty newKey generates one.
func (s *ApplicationService) RotateSecret(ctx context.Context, orgID string, appID string, endpointID string, newKey string) (*domain.Endpoint, error) {
	if newKey == "" {
		key, err := signing.GenerateHMACKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		newKey = key.String()
	} else if _, err := signing.ParseKey(newKey); err != nil {
		return nil, err
	}

	app, err := s.apps.GetByID(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	ep, err := s.endpoints.GetByID(ctx, appID, endpointID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ep.RotateKey(newKey, now)
	ep.UpdatedAt = now
	if err := s.endpoints.Update(ctx, ep); err != nil {
		return nil, err
	}

	s.afterEndpointWrite(ctx, *app, *ep, opevents.EndpointUpdated)
	return ep, nil
}

func (s *ApplicationService) afterEndpointWrite(ctx context.Context, app domain.Application, ep domain.Endpoint, eventType opevents.EventType) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, app.OrgID, app.ID); err != nil {
			s.logger.Warn("failed to invalidate application snapshot",
				zap.String("appId", app.ID),
				zap.Error(err),
			)
		}
	}
	s.emitter.Emit(ctx, app.OrgID, opevents.NewEndpointEvent(eventType, app, ep))
}
