package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/kcjob/internal/api/shared"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/service"
)

// TaskHandler serves the operator task endpoints.
type TaskHandler struct {
	tasks service.TaskService
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /api/tasks?status=processing&limit=50. The status
// defaults to processing, the state stuck tasks sit in.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.TaskStatusProcessing
	if s := q.Get("status"); s != "" {
		status = domain.TaskStatus(s)
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	tasks, err := h.tasks.ListTasks(r.Context(), status, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	resp := ListTasksResponse{Status: string(status), Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// FailTask handles POST /api/tasks/{id}/fail.
func (h *TaskHandler) FailTask(w http.ResponseWriter, r *http.Request) {
	var req FailTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "reason is required", err)
		return
	}

	id := chi.URLParam(r, "id")
	t, err := h.tasks.FailTask(r.Context(), id, req.Reason)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	operator, _ := shared.GetOperator(r.Context())
	logger.FromContext(r.Context()).Info("operator failed task", "task_id", id, "operator", operator)
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ReprocessTask handles POST /api/tasks/{id}/reprocess.
func (h *TaskHandler) ReprocessTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.tasks.ReprocessTask(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	operator, _ := shared.GetOperator(r.Context())
	logger.FromContext(r.Context()).Info("operator reopened task",
		"task_id", id,
		"operator", operator,
		"status", t.Status)
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}
