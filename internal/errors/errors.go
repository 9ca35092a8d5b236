package errors

import (
	"errors"
	"fmt"
)

var ErrItemNotFound = errors.New("inventory item not found")
var ErrItemUnavailable = errors.New("inventory item is not available")
var ErrInventoryUnavailable = errors.New("inventory service unreachable")
var ErrScheduleConflict = errors.New("item is already booked for the requested dates")
var ErrBookingNotFound = errors.New("booking not found")

// ErrPermanent marks a message handler failure that retrying cannot fix
var ErrPermanent = errors.New("permanent failure")

// ValidationError is returned for a malformed booking request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
