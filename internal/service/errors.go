package service

import (
	"errors"
	"fmt"
)

// ErrOperationInProgress is returned when a lifecycle operation is
// requested while another workflow holds the instance's lock.
var ErrOperationInProgress = errors.New("another operation is already in progress for this instance")

// NotFoundError indicates the referenced instance does not exist in the
// status store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance %s not found", e.ID)
}

// ValidationError indicates a malformed or inapplicable request, detected
// before any remote operation is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
