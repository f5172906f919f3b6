package domain

import "time"

// MessageDestination is the delivery state of one message for one endpoint.
// NextAttempt is set exactly while Status is pending or sending.
type MessageDestination struct {
	ID          string
	MsgID       string
	EndpointID  string
	Status      MessageStatus
	NextAttempt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSendingDestination builds the destination row written at fan-out time.
func NewSendingDestination(msgID string, endpointID string, now time.Time) MessageDestination {
	next := now
	return MessageDestination{
		ID:          NewDestinationID(),
		MsgID:       msgID,
		EndpointID:  endpointID,
		Status:      StatusSending,
		NextAttempt: &next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
