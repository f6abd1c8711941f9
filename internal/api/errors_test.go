package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/kcjob/internal/service"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{service.ErrTaskNotFound, http.StatusNotFound, "Task not found"},
		{service.ErrTaskTerminal, http.StatusConflict, "Task has already finished"},
		{service.ErrNotReprocessable, http.StatusConflict, "Only failed tasks can be reprocessed"},
		{fmt.Errorf("%w: unknown status %q", service.ErrInvalidInput, "x"), http.StatusBadRequest, `invalid input: unknown status "x"`},
		{service.NewServiceError("task", "get", errors.New("pq: too many connections")), http.StatusInternalServerError, "An unexpected error occurred"},
		{nil, http.StatusInternalServerError, "An unexpected error occurred"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err), "%v", tt.err)
		assert.Equal(t, tt.message, GetSafeErrorMessage(tt.err), "%v", tt.err)
	}
}
