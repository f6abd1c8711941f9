package convert

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when the format hint names no known loader.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ValidationError describes why an input file was rejected. Index is the
// zero-based record position, or -1 when the problem concerns the file as a
// whole. Message is the user-facing text stored on the failed task.
type ValidationError struct {
	Index   int
	Field   string
	Message string

	cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying sentinel, if any.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// fileError reports a problem that is not tied to a single record.
func fileError(format string, args ...any) *ValidationError {
	return &ValidationError{Index: -1, Message: fmt.Sprintf(format, args...)}
}

// recordError reports a problem with one record. Messages are 1-based.
func recordError(index int, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Index:   index,
		Field:   field,
		Message: fmt.Sprintf("Record %d: ", index+1) + fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
