package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/service"
)

type ApplicationService interface {
	CreateApplication(ctx context.Context, app *domain.Application) error
	GetApplication(ctx context.Context, orgID string, appID string) (*domain.Application, error)
	CreateEndpoint(ctx context.Context, orgID string, appID string, ep *domain.Endpoint) error
	GetEndpoint(ctx context.Context, orgID string, appID string, endpointID string) (*domain.Endpoint, error)
	ListEndpoints(ctx context.Context, orgID string, appID string) ([]domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, orgID string, appID string, endpointID string, update service.EndpointUpdate) (*domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, orgID string, appID string, endpointID string) error
	RotateSecret(ctx context.Context, orgID string, appID string, endpointID string, newKey string) (*domain.Endpoint, error)
}

type MessageService interface {
	Create(ctx context.Context, orgID string, appID string, in service.MessageIn) (*domain.Message, bool, error)
	Get(ctx context.Context, appID string, msgID string) (*domain.Message, error)
}

type AttemptService interface {
	Resend(ctx context.Context, orgID string, appID string, msgID string, endpointID string) error
	Recover(ctx context.Context, orgID string, appID string, endpointID string, since time.Time) (int, error)
	ListByMessage(ctx context.Context, orgID string, appID string, msgID string, filter domain.AttemptFilter) ([]domain.MessageAttempt, error)
}

type Services struct {
	Applications ApplicationService
	Messages     MessageService
	Attempts     AttemptService
}

type Handler struct {
	apps     ApplicationService
	messages MessageService
	attempts AttemptService
}

func NewHandler(services Services) (*Handler, error) {
	if services.Applications == nil || services.Messages == nil || services.Attempts == nil {
		return nil, fmt.Errorf("application, message and attempt services are required")
	}
	return &Handler{
		apps:     services.Applications,
		messages: services.Messages,
		attempts: services.Attempts,
	}, nil
}

func RegisterRoutes(router fiber.Router, services Services) error {
	h, err := NewHandler(services)
	if err != nil {
		return err
	}

	v1 := router.Group("/api/v1")
	v1.Post("/app", h.CreateApplication)
	v1.Get("/app/:appId", h.GetApplication)

	v1.Post("/app/:appId/endpoint", h.CreateEndpoint)
	v1.Get("/app/:appId/endpoint", h.ListEndpoints)
	v1.Get("/app/:appId/endpoint/:endpointId", h.GetEndpoint)
	v1.Patch("/app/:appId/endpoint/:endpointId", h.UpdateEndpoint)
	v1.Delete("/app/:appId/endpoint/:endpointId", h.DeleteEndpoint)
	v1.Get("/app/:appId/endpoint/:endpointId/secret", h.GetEndpointSecret)
	v1.Post("/app/:appId/endpoint/:endpointId/secret/rotate", h.RotateEndpointSecret)
	v1.Post("/app/:appId/endpoint/:endpointId/recover", h.RecoverEndpoint)

	v1.Post("/app/:appId/msg", h.CreateMessage)
	v1.Get("/app/:appId/msg/:msgId", h.GetMessage)
	v1.Get("/app/:appId/msg/:msgId/attempt", h.ListAttempts)
	v1.Post("/app/:appId/msg/:msgId/endpoint/:endpointId/resend", h.ResendMessage)

	return nil
}
