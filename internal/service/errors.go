package service

import (
	"errors"
	"fmt"
)

// Sentinel errors the API layer maps to HTTP status codes.
var (
	// ErrTaskNotFound indicates that the task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal indicates an override of a completed or failed task.
	// API layer should map this to HTTP 409 Conflict.
	ErrTaskTerminal = errors.New("task is already in a terminal state")

	// ErrNotReprocessable indicates a reprocess request for a task that has
	// not failed. API layer should map this to HTTP 409 Conflict.
	ErrNotReprocessable = errors.New("only failed tasks can be reprocessed")

	// ErrInvalidInput indicates a malformed request value, such as an empty
	// failure reason. API layer should map this to HTTP 400 Bad Request.
	ErrInvalidInput = errors.New("invalid input")
)

// ServiceError wraps unexpected errors with the service and operation that
// produced them.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s service %s operation failed", e.Service, e.Op)
	}
	return fmt.Sprintf("%s service %s operation failed: %v", e.Service, e.Op, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err, or returns nil when err is nil.
func NewServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}
