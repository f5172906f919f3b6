package opevents

import (
	"context"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type EventType string

const (
	MessageAttemptFailing   EventType = "message.attempt.failing"
	MessageAttemptExhausted EventType = "message.attempt.exhausted"
	MessageAttemptRecovered EventType = "message.attempt.recovered"
	EndpointCreated         EventType = "endpoint.created"
	EndpointUpdated         EventType = "endpoint.updated"
	EndpointDeleted         EventType = "endpoint.deleted"
	EndpointDisabled        EventType = "endpoint.disabled"
)

// Event is the {"type","data"} envelope delivered to the operational webhook
// application of an organization.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type LastAttempt struct {
	ID                 string    `json:"id"`
	ResponseStatusCode int       `json:"responseStatusCode"`
	Timestamp          time.Time `json:"timestamp"`
}

type MessageAttemptData struct {
	AppID       string      `json:"appId"`
	AppUID      *string     `json:"appUid"`
	MsgID       string      `json:"msgId"`
	MsgEventID  *string     `json:"msgEventId"`
	EndpointID  string      `json:"endpointId"`
	EndpointUID *string     `json:"endpointUid,omitempty"`
	LastAttempt LastAttempt `json:"lastAttempt"`
}

type EndpointData struct {
	AppID       string  `json:"appId"`
	AppUID      *string `json:"appUid"`
	EndpointID  string  `json:"endpointId"`
	EndpointUID *string `json:"endpointUid"`
}

type EndpointDisabledData struct {
	EndpointData
	FailSince time.Time `json:"failSince"`
}

// Emitter publishes operational events. Emit never blocks on the network and
// never reports failures to the caller.
type Emitter interface {
	Emit(ctx context.Context, orgID string, event Event)
	Close()
}

func NewMessageAttemptEvent(eventType EventType, app domain.Application, msg domain.Message, endpoint domain.Endpoint, attempt domain.MessageAttempt) Event {
	return Event{
		Type: eventType,
		Data: MessageAttemptData{
			AppID:       app.ID,
			AppUID:      app.UID,
			MsgID:       msg.ID,
			MsgEventID:  msg.UID,
			EndpointID:  endpoint.ID,
			EndpointUID: endpoint.UID,
			LastAttempt: LastAttempt{
				ID:                 attempt.ID,
				ResponseStatusCode: attempt.ResponseStatusCode,
				Timestamp:          attempt.CreatedAt,
			},
		},
	}
}

func NewEndpointEvent(eventType EventType, app domain.Application, endpoint domain.Endpoint) Event {
	return Event{
		Type: eventType,
		Data: EndpointData{
			AppID:       app.ID,
			AppUID:      app.UID,
			EndpointID:  endpoint.ID,
			EndpointUID: endpoint.UID,
		},
	}
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, Event) {}
func (NopEmitter) Close()                              {}
