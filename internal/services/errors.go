package services

import (
	"errors"
	"fmt"
)

// ErrBatchNotFound is returned when a referenced batch does not exist
var ErrBatchNotFound = errors.New("batch not found")

// ErrBottleNotFound is returned when a referenced bottle does not exist
var ErrBottleNotFound = errors.New("bottle not found")

// ValidationError marks bad caller input, rejected before any mutation
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// NewValidationError creates a field-specific validation error
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
