package domain

import "time"

// MessageAttempt is the append-only record of one HTTP call.
type MessageAttempt struct {
	ID                 string
	MsgID              string
	EndpointID         string
	DestinationID      string
	URL                string
	Response           string
	ResponseStatusCode int
	Status             MessageStatus
	TriggerType        TriggerType
	CreatedAt          time.Time
	EndedAt            *time.Time
}

// AttemptFilter narrows an attempt listing. Zero values do not filter.
type AttemptFilter struct {
	EndpointID string
	Status     *MessageStatus
	Limit      int
}

func (f AttemptFilter) Validate() error {
	if f.Limit < 0 {
		return ErrValidationf("limit must not be negative")
	}
	if f.Status != nil && !f.Status.IsValid() {
		return ErrValidationf("invalid status %d", *f.Status)
	}
	return nil
}
