package api

import (
	"time"

	"github.com/phrazzld/kcjob/internal/domain"
)

// TaskResponse is the admin view of a task.
type TaskResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	OwnerEmail        string     `json:"owner_email"`
	Filename          string     `json:"filename"`
	InputBlob         string     `json:"input_blob,omitempty"`
	NormalizedBlob    string     `json:"normalized_blob,omitempty"`
	ConceptResultBlob string     `json:"concept_result_blob,omitempty"`
	ClusterResultBlob string     `json:"cluster_result_blob,omitempty"`
	JobHandle         string     `json:"job_handle,omitempty"`
	RecordCount       int        `json:"record_count"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ListTasksResponse wraps a status listing.
type ListTasksResponse struct {
	Status string         `json:"status"`
	Tasks  []TaskResponse `json:"tasks"`
}

// FailTaskRequest is the body of POST /api/tasks/{id}/fail.
type FailTaskRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:                t.ID,
		Status:            string(t.Status),
		OwnerEmail:        t.OwnerEmail,
		Filename:          t.Filename,
		InputBlob:         t.InputBlob,
		NormalizedBlob:    t.NormalizedBlob,
		ConceptResultBlob: t.ConceptResultBlob,
		ClusterResultBlob: t.ClusterResultBlob,
		JobHandle:         t.JobHandle,
		RecordCount:       t.RecordCount,
		ErrorMessage:      t.ErrorMessage,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		CompletedAt:       t.CompletedAt,
	}
}
