package domain

import (
	"fmt"
	"regexp"
)

const (
	maxLimitedStringLen = 256

	MinMessageChannels  = 1
	MaxMessageChannels  = 5
	MaxEndpointChannels = 10
)

var limitedStringPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)

// ValidateLimitedString checks ids, uids, event type names and channel tags.
func ValidateLimitedString(field string, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(value) > maxLimitedStringLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, maxLimitedStringLen)
	}
	if !limitedStringPattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q contains invalid characters", ErrValidation, field, value)
	}
	return nil
}

func validateStringSet(field string, values []string, minLen int, maxLen int) error {
	if len(values) < minLen || len(values) > maxLen {
		return fmt.Errorf("%w: %s must contain between %d and %d entries", ErrValidation, field, minLen, maxLen)
	}
	for _, v := range values {
		if err := ValidateLimitedString(field, v); err != nil {
			return err
		}
	}
	return nil
}
