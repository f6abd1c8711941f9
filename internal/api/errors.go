package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/kcjob/internal/api/shared"
	"github.com/phrazzld/kcjob/internal/service"
)

// MapErrorToStatusCode maps service errors to HTTP status codes. Anything
// unrecognised is a 500.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTaskTerminal),
		errors.Is(err, service.ErrNotReprocessable):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes store or driver details.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, service.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrTaskTerminal):
		return "Task has already finished"
	case errors.Is(err, service.ErrNotReprocessable):
		return "Only failed tasks can be reprocessed"
	case errors.Is(err, service.ErrInvalidInput):
		// service input errors are built from request values only
		return err.Error()
	default:
		return "An unexpected error occurred"
	}
}

// respondWithServiceError writes the mapped status and message for err.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
