package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// ApplicationModel is the persistence model for the applications table.
type ApplicationModel struct {
	ID        string  `gorm:"type:varchar(40);primaryKey"`
	OrgID     string  `gorm:"type:varchar(40);not null"`
	UID       *string `gorm:"type:varchar(256)"`
	Name      string  `gorm:"type:varchar(256);not null"`
	RateLimit *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ApplicationModel) TableName() string {
	return "applications"
}

// EndpointModel is the persistence model for the endpoints table. List and
// map columns are stored as JSON text.
type EndpointModel struct {
	ID          string                 `gorm:"type:varchar(40);primaryKey"`
	AppID       string                 `gorm:"type:varchar(40);not null"`
	UID         *string                `gorm:"type:varchar(256)"`
	URL         string                 `gorm:"type:text;not null"`
	Description string                 `gorm:"type:text;not null;default:''"`
	Key         string                 `gorm:"type:text;not null"`
	OldKeys     []domain.OldSigningKey `gorm:"type:text;serializer:json"`
	EventTypes  []string               `gorm:"type:text;serializer:json"`
	Channels    []string               `gorm:"type:text;serializer:json"`
	Headers     map[string]string      `gorm:"type:text;serializer:json"`
	Disabled    bool                   `gorm:"not null;default:false"`
	Deleted     bool                   `gorm:"not null;default:false"`
	RateLimit   *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (EndpointModel) TableName() string {
	return "endpoints"
}

// MessageModel is the persistence model for the messages table. Payload is
// nil once scrubbed.
type MessageModel struct {
	ID         string   `gorm:"type:varchar(40);primaryKey"`
	AppID      string   `gorm:"type:varchar(40);not null"`
	OrgID      string   `gorm:"type:varchar(40);not null"`
	UID        *string  `gorm:"type:varchar(256)"`
	EventType  string   `gorm:"type:varchar(256);not null"`
	Payload    *string  `gorm:"type:text"`
	Channels   []string `gorm:"type:text;serializer:json"`
	CreatedAt  time.Time
	Expiration time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// DestinationModel is the persistence model for message_destinations.
type DestinationModel struct {
	ID          string               `gorm:"type:varchar(40);primaryKey"`
	MsgID       string               `gorm:"type:varchar(40);not null"`
	EndpointID  string               `gorm:"type:varchar(40);not null"`
	Status      domain.MessageStatus `gorm:"type:smallint;not null"`
	NextAttempt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DestinationModel) TableName() string {
	return "message_destinations"
}

// AttemptModel is the persistence model for message_attempts.
type AttemptModel struct {
	ID                 string               `gorm:"type:varchar(40);primaryKey"`
	MsgID              string               `gorm:"type:varchar(40);not null"`
	EndpointID         string               `gorm:"type:varchar(40);not null"`
	DestinationID      string               `gorm:"type:varchar(40);not null"`
	URL                string               `gorm:"type:text;not null"`
	Response           string               `gorm:"type:text;not null;default:''"`
	ResponseStatusCode int                  `gorm:"not null"`
	Status             domain.MessageStatus `gorm:"type:smallint;not null"`
	TriggerType        domain.TriggerType   `gorm:"type:smallint;not null"`
	CreatedAt          time.Time
	EndedAt            *time.Time
}

func (AttemptModel) TableName() string {
	return "message_attempts"
}

func applicationModelFromDomain(a *domain.Application) *ApplicationModel {
	if a == nil {
		return nil
	}

	return &ApplicationModel{
		ID:        a.ID,
		OrgID:     a.OrgID,
		UID:       a.UID,
		Name:      a.Name,
		RateLimit: a.RateLimit,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func applicationModelToDomain(m *ApplicationModel) *domain.Application {
	if m == nil {
		return nil
	}

	return &domain.Application{
		ID:        m.ID,
		OrgID:     m.OrgID,
		UID:       m.UID,
		Name:      m.Name,
		RateLimit: m.RateLimit,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func endpointModelFromDomain(e *domain.Endpoint) *EndpointModel {
	if e == nil {
		return nil
	}

	return &EndpointModel{
		ID:          e.ID,
		AppID:       e.AppID,
		UID:         e.UID,
		URL:         e.URL,
		Description: e.Description,
		Key:         e.Key,
		OldKeys:     e.OldKeys,
		EventTypes:  e.EventTypes,
		Channels:    e.Channels,
		Headers:     e.Headers,
		Disabled:    e.Disabled,
		Deleted:     e.Deleted,
		RateLimit:   e.RateLimit,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func endpointModelToDomain(m *EndpointModel) *domain.Endpoint {
	if m == nil {
		return nil
	}

	return &domain.Endpoint{
		ID:          m.ID,
		AppID:       m.AppID,
		UID:         m.UID,
		URL:         m.URL,
		Description: m.Description,
		Key:         m.Key,
		OldKeys:     m.OldKeys,
		EventTypes:  m.EventTypes,
		Channels:    m.Channels,
		Headers:     m.Headers,
		Disabled:    m.Disabled,
		Deleted:     m.Deleted,
		RateLimit:   m.RateLimit,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	var payload *string
	if len(m.Payload) > 0 {
		raw := string(m.Payload)
		payload = &raw
	}

	return &MessageModel{
		ID:         m.ID,
		AppID:      m.AppID,
		OrgID:      m.OrgID,
		UID:        m.UID,
		EventType:  m.EventType,
		Payload:    payload,
		Channels:   m.Channels,
		CreatedAt:  m.CreatedAt,
		Expiration: m.Expiration,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	var payload json.RawMessage
	if m.Payload != nil {
		payload = json.RawMessage(*m.Payload)
	}

	return &domain.Message{
		ID:         m.ID,
		AppID:      m.AppID,
		OrgID:      m.OrgID,
		UID:        m.UID,
		EventType:  m.EventType,
		Payload:    payload,
		Channels:   m.Channels,
		CreatedAt:  m.CreatedAt,
		Expiration: m.Expiration,
	}
}

func destinationModelFromDomain(d *domain.MessageDestination) *DestinationModel {
	if d == nil {
		return nil
	}

	return &DestinationModel{
		ID:          d.ID,
		MsgID:       d.MsgID,
		EndpointID:  d.EndpointID,
		Status:      d.Status,
		NextAttempt: d.NextAttempt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func destinationModelToDomain(m *DestinationModel) *domain.MessageDestination {
	if m == nil {
		return nil
	}

	return &domain.MessageDestination{
		ID:          m.ID,
		MsgID:       m.MsgID,
		EndpointID:  m.EndpointID,
		Status:      m.Status,
		NextAttempt: m.NextAttempt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.MessageAttempt) *AttemptModel {
	if a == nil {
		return nil
	}

	return &AttemptModel{
		ID:                 a.ID,
		MsgID:              a.MsgID,
		EndpointID:         a.EndpointID,
		DestinationID:      a.DestinationID,
		URL:                a.URL,
		Response:           a.Response,
		ResponseStatusCode: a.ResponseStatusCode,
		Status:             a.Status,
		TriggerType:        a.TriggerType,
		CreatedAt:          a.CreatedAt,
		EndedAt:            a.EndedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.MessageAttempt {
	if m == nil {
		return nil
	}

	return &domain.MessageAttempt{
		ID:                 m.ID,
		MsgID:              m.MsgID,
		EndpointID:         m.EndpointID,
		DestinationID:      m.DestinationID,
		URL:                m.URL,
		Response:           m.Response,
		ResponseStatusCode: m.ResponseStatusCode,
		Status:             m.Status,
		TriggerType:        m.TriggerType,
		CreatedAt:          m.CreatedAt,
		EndedAt:            m.EndedAt,
	}
}
