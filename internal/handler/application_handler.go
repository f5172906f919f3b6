package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/service"
)

type createApplicationRequest struct {
	Name      string  `json:"name" validate:"required,max=256"`
	UID       *string `json:"uid"`
	RateLimit *int    `json:"rateLimit" validate:"omitempty,gte=0"`
}

type applicationResponse struct {
	ID        string    `json:"id"`
	UID       *string   `json:"uid,omitempty"`
	Name      string    `json:"name"`
	RateLimit *int      `json:"rateLimit,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type createEndpointRequest struct {
	URL         string            `json:"url" validate:"required,url"`
	UID         *string           `json:"uid"`
	Description string            `json:"description"`
	Secret      string            `json:"secret"`
	FilterTypes []string          `json:"filterTypes" validate:"omitempty,min=1"`
	Channels    []string          `json:"channels" validate:"omitempty,min=1,max=10"`
	Headers     map[string]string `json:"headers"`
	Disabled    bool              `json:"disabled"`
	RateLimit   *int              `json:"rateLimit" validate:"omitempty,gte=0"`
}

// updateEndpointRequest: an explicit empty filterTypes or channels list
// removes that filter.
type updateEndpointRequest struct {
	URL         *string           `json:"url" validate:"omitempty,url"`
	UID         *string           `json:"uid"`
	Description *string           `json:"description"`
	FilterTypes *[]string         `json:"filterTypes"`
	Channels    *[]string         `json:"channels"`
	Headers     map[string]string `json:"headers"`
	Disabled    *bool             `json:"disabled"`
	RateLimit   *int              `json:"rateLimit" validate:"omitempty,gte=0"`
}

type rotateSecretRequest struct {
	Key string `json:"key"`
}

type recoverRequest struct {
	Since string `json:"since" validate:"required"`
}

type endpointResponse struct {
	ID          string            `json:"id"`
	UID         *string           `json:"uid,omitempty"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	FilterTypes []string          `json:"filterTypes,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Disabled    bool              `json:"disabled"`
	RateLimit   *int              `json:"rateLimit,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (h *Handler) CreateApplication(c *fiber.Ctx) error {
	var req createApplicationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	app := &domain.Application{
		OrgID:     orgID(c),
		UID:       req.UID,
		Name:      strings.TrimSpace(req.Name),
		RateLimit: req.RateLimit,
	}
	if err := h.apps.CreateApplication(c.UserContext(), app); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toApplicationResponse(app))
}

func (h *Handler) GetApplication(c *fiber.Ctx) error {
	app, err := h.apps.GetApplication(c.UserContext(), orgID(c), param(c, "appId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toApplicationResponse(app))
}

func (h *Handler) CreateEndpoint(c *fiber.Ctx) error {
	var req createEndpointRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	ep := &domain.Endpoint{
		UID:         req.UID,
		URL:         strings.TrimSpace(req.URL),
		Description: req.Description,
		Key:         strings.TrimSpace(req.Secret),
		EventTypes:  req.FilterTypes,
		Channels:    req.Channels,
		Headers:     req.Headers,
		Disabled:    req.Disabled,
		RateLimit:   req.RateLimit,
	}
	if err := h.apps.CreateEndpoint(c.UserContext(), orgID(c), param(c, "appId"), ep); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toEndpointResponse(ep))
}

func (h *Handler) ListEndpoints(c *fiber.Ctx) error {
	endpoints, err := h.apps.ListEndpoints(c.UserContext(), orgID(c), param(c, "appId"))
	if err != nil {
		return err
	}

	data := make([]endpointResponse, 0, len(endpoints))
	for i := range endpoints {
		data = append(data, toEndpointResponse(&endpoints[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *Handler) GetEndpoint(c *fiber.Ctx) error {
	ep, err := h.apps.GetEndpoint(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(ep))
}

func (h *Handler) UpdateEndpoint(c *fiber.Ctx) error {
	var req updateEndpointRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	update := service.EndpointUpdate{
		UID:         req.UID,
		URL:         req.URL,
		Description: req.Description,
		Headers:     req.Headers,
		Disabled:    req.Disabled,
		RateLimit:   req.RateLimit,
	}
	if req.FilterTypes != nil {
		update.EventTypes = *req.FilterTypes
		update.ClearEventTypes = len(*req.FilterTypes) == 0
	}
	if req.Channels != nil {
		update.Channels = *req.Channels
		update.ClearChannels = len(*req.Channels) == 0
	}

	ep, err := h.apps.UpdateEndpoint(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId"), update)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toEndpointResponse(ep))
}

func (h *Handler) DeleteEndpoint(c *fiber.Ctx) error {
	if err := h.apps.DeleteEndpoint(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GetEndpointSecret(c *fiber.Ctx) error {
	ep, err := h.apps.GetEndpoint(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"key": ep.Key})
}

func (h *Handler) RotateEndpointSecret(c *fiber.Ctx) error {
	var req rotateSecretRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}

	_, err := h.apps.RotateSecret(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId"), strings.TrimSpace(req.Key))
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) RecoverEndpoint(c *fiber.Ctx) error {
	var req recoverRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	since, err := parseRFC3339(req.Since, "since")
	if err != nil {
		return err
	}

	n, err := h.attempts.Recover(c.UserContext(), orgID(c), param(c, "appId"), param(c, "endpointId"), since)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"enqueued": n})
}

func toApplicationResponse(app *domain.Application) applicationResponse {
	return applicationResponse{
		ID:        app.ID,
		UID:       app.UID,
		Name:      app.Name,
		RateLimit: app.RateLimit,
		CreatedAt: app.CreatedAt,
		UpdatedAt: app.UpdatedAt,
	}
}

func toEndpointResponse(ep *domain.Endpoint) endpointResponse {
	return endpointResponse{
		ID:          ep.ID,
		UID:         ep.UID,
		URL:         ep.URL,
		Description: ep.Description,
		FilterTypes: ep.EventTypes,
		Channels:    ep.Channels,
		Headers:     ep.Headers,
		Disabled:    ep.Disabled,
		RateLimit:   ep.RateLimit,
		CreatedAt:   ep.CreatedAt,
		UpdatedAt:   ep.UpdatedAt,
	}
}
