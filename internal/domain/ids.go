package domain

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Id prefixes. The suffix is a hex encoded UUIDv7, so ids of one kind sort by
// creation time.
const (
	PrefixOrganization = "org"
	PrefixApplication  = "app"
	PrefixEndpoint     = "ep"
	PrefixMessage      = "msg"
	PrefixDestination  = "msgep"
	PrefixAttempt      = "atmpt"
)

func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + hex.EncodeToString(id[:])
}

func NewApplicationID() string { return NewID(PrefixApplication) }
func NewEndpointID() string    { return NewID(PrefixEndpoint) }
func NewMessageID() string     { return NewID(PrefixMessage) }
func NewDestinationID() string { return NewID(PrefixDestination) }
func NewAttemptID() string     { return NewID(PrefixAttempt) }
