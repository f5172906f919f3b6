package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultPayloadRetention is how long a message payload is kept before the
// sweeper scrubs it.
const DefaultPayloadRetention = 90 * 24 * time.Hour

// Message is a published event. It is immutable apart from payload scrubbing.
type Message struct {
	ID         string
	AppID      string
	OrgID      string
	UID        *string
	EventType  string
	Payload    json.RawMessage
	Channels   []string
	CreatedAt  time.Time
	Expiration time.Time
}

func (m *Message) Validate() error {
	if err := ValidateLimitedString("eventType", m.EventType); err != nil {
		return err
	}
	if m.UID != nil {
		if err := ValidateLimitedString("eventId", *m.UID); err != nil {
			return err
		}
	}
	if m.Channels != nil {
		if err := validateStringSet("channels", m.Channels, MinMessageChannels, MaxMessageChannels); err != nil {
			return err
		}
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !json.Valid(m.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}
	return nil
}

// HasPayload is false once the retention sweeper has scrubbed the message.
func (m *Message) HasPayload() bool {
	return len(m.Payload) > 0
}
