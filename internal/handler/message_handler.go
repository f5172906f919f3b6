package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/service"
)

type createMessageRequest struct {
	EventID   *string         `json:"eventId"`
	EventType string          `json:"eventType" validate:"required"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Channels  []string        `json:"channels" validate:"omitempty,min=1,max=5"`
	// PayloadRetentionPeriod is in days.
	PayloadRetentionPeriod *int `json:"payloadRetentionPeriod" validate:"omitempty,gte=1,lte=90"`
}

type messageResponse struct {
	ID        string          `json:"id"`
	EventID   *string         `json:"eventId,omitempty"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Channels  []string        `json:"channels,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type attemptResponse struct {
	ID                 string     `json:"id"`
	MsgID              string     `json:"msgId"`
	EndpointID         string     `json:"endpointId"`
	URL                string     `json:"url"`
	Response           string     `json:"response"`
	ResponseStatusCode int        `json:"responseStatusCode"`
	Status             string     `json:"status"`
	TriggerType        string     `json:"triggerType"`
	Timestamp          time.Time  `json:"timestamp"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
}

// CreateMessage answers 202 for a new message and 200 when eventId matched
// a message already stored for the application.
func (h *Handler) CreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	in := service.MessageIn{
		UID:       req.EventID,
		EventType: req.EventType,
		Payload:   req.Payload,
		Channels:  req.Channels,
	}
	if req.PayloadRetentionPeriod != nil {
		in.PayloadRetention = time.Duration(*req.PayloadRetentionPeriod) * 24 * time.Hour
	}

	msg, existing, err := h.messages.Create(c.UserContext(), orgID(c), param(c, "appId"), in)
	if err != nil {
		return err
	}

	status := fiber.StatusAccepted
	if existing {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(toMessageResponse(msg))
}

func (h *Handler) GetMessage(c *fiber.Ctx) error {
	appID := param(c, "appId")
	if _, err := h.apps.GetApplication(c.UserContext(), orgID(c), appID); err != nil {
		return err
	}

	msg, err := h.messages.Get(c.UserContext(), appID, param(c, "msgId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toMessageResponse(msg))
}

const defaultAttemptLimit = 50

type listAttemptsQuery struct {
	EndpointID string `query:"endpointId"`
	Status     string `query:"status" validate:"omitempty,oneof=success pending fail sending"`
	Limit      int    `query:"limit" validate:"gte=0,lte=250"`
}

func (h *Handler) ListAttempts(c *fiber.Ctx) error {
	var q listAttemptsQuery
	if err := c.QueryParser(&q); err != nil {
		return fmt.Errorf("%w: invalid query: %v", domain.ErrValidation, err)
	}
	if err := validate.Struct(q); err != nil {
		return validationError(err)
	}

	filter := domain.AttemptFilter{EndpointID: strings.TrimSpace(q.EndpointID), Limit: q.Limit}
	if filter.Limit == 0 {
		filter.Limit = defaultAttemptLimit
	}
	if q.Status != "" {
		status, err := domain.ParseMessageStatusFromString(q.Status)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	attempts, err := h.attempts.ListByMessage(c.UserContext(), orgID(c), param(c, "appId"), param(c, "msgId"), filter)
	if err != nil {
		return err
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, toAttemptResponse(a))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *Handler) ResendMessage(c *fiber.Ctx) error {
	err := h.attempts.Resend(c.UserContext(), orgID(c), param(c, "appId"), param(c, "msgId"), param(c, "endpointId"))
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func toMessageResponse(msg *domain.Message) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		EventID:   msg.UID,
		EventType: msg.EventType,
		Payload:   msg.Payload,
		Channels:  msg.Channels,
		Timestamp: msg.CreatedAt,
	}
}

func toAttemptResponse(a domain.MessageAttempt) attemptResponse {
	return attemptResponse{
		ID:                 a.ID,
		MsgID:              a.MsgID,
		EndpointID:         a.EndpointID,
		URL:                a.URL,
		Response:           a.Response,
		ResponseStatusCode: a.ResponseStatusCode,
		Status:             a.Status.String(),
		TriggerType:        a.TriggerType.String(),
		Timestamp:          a.CreatedAt,
		EndedAt:            a.EndedAt,
	}
}
