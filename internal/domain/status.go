package domain

import (
	"fmt"
	"strings"
)

// MessageStatus is the delivery state of a destination or the outcome of an
// attempt. The numeric values are persisted.
type MessageStatus int16

const (
	StatusSuccess MessageStatus = 0
	StatusPending MessageStatus = 1
	StatusFail    MessageStatus = 2
	StatusSending MessageStatus = 3
)

func (s MessageStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusFail:
		return "fail"
	case StatusSending:
		return "sending"
	}
	return fmt.Sprintf("unknown(%d)", int16(s))
}

func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusPending, StatusFail, StatusSending:
		return true
	}
	return false
}

// IsInFlight reports whether a destination in this status still expects
// scheduled attempts.
func (s MessageStatus) IsInFlight() bool {
	return s == StatusPending || s == StatusSending
}

func ParseMessageStatusFromString(s string) (MessageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusSuccess, nil
	case "pending":
		return StatusPending, nil
	case "fail":
		return StatusFail, nil
	case "sending":
		return StatusSending, nil
	}
	return 0, fmt.Errorf("%w: invalid message status %q", ErrValidation, s)
}

// TriggerType tells scheduled deliveries apart from operator resends.
type TriggerType int16

const (
	TriggerScheduled TriggerType = 0
	TriggerManual    TriggerType = 1
)

func (t TriggerType) String() string {
	switch t {
	case TriggerScheduled:
		return "scheduled"
	case TriggerManual:
		return "manual"
	}
	return fmt.Sprintf("unknown(%d)", int16(t))
}

func (t TriggerType) IsValid() bool {
	return t == TriggerScheduled || t == TriggerManual
}
