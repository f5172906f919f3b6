package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	// ErrInvariant marks state that should be impossible, such as a queued
	// task whose message no longer exists.
	ErrInvariant = errors.New("invariant violation")
)

// ErrValidationf builds an error wrapping ErrValidation.
func ErrValidationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
