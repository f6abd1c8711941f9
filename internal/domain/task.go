package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a question-file task.
type TaskStatus string

// Possible task status values, in checkpoint order.
const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusUploaded   TaskStatus = "uploaded"
	TaskStatusConverted  TaskStatus = "converted"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task validation and transition errors
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidTransition   = errors.New("invalid task status transition")
	ErrTaskTerminal        = errors.New("task is in a terminal state")
	ErrBlobAlreadySet      = errors.New("blob pointer already set")
	ErrJobHandleAlreadySet = errors.New("job handle already set")
	ErrEmptyJobHandle      = errors.New("job handle cannot be empty")
	ErrEmptyFailureMessage = errors.New("failure message cannot be empty")
)

// statusOrder gives the position of every non-failed status on the happy path.
var statusOrder = map[TaskStatus]int{
	TaskStatusCreated:    0,
	TaskStatusUploaded:   1,
	TaskStatusConverted:  2,
	TaskStatusQueued:     3,
	TaskStatusProcessing: 4,
	TaskStatusCompleted:  5,
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	if s == TaskStatusFailed {
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// IsTerminal reports whether no further automatic processing may act on the task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AtOrPast reports whether s has reached target on the happy path. Failed
// is not on the path and is never at or past anything.
func (s TaskStatus) AtOrPast(target TaskStatus) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[target]
	return ok && from >= to
}

// ParseTaskStatus converts a user-supplied string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
	}
	return status, nil
}

// CanTransition reports whether a task may move from one status to another.
// Movement is forward-only along the checkpoint order, staying in place is
// allowed for non-terminal states, and failed is reachable from any
// non-terminal state.
func CanTransition(from, to TaskStatus) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to == TaskStatusFailed {
		return true
	}
	return statusOrder[to] >= statusOrder[from]
}

// Task is one teacher-submitted question file tracked end to end.
//
// Blob pointers are plain object-store keys so downstream tooling can resolve
// them without going through the orchestrator.
type Task struct {
	ID                string     `json:"id"`
	Status            TaskStatus `json:"status"`
	OwnerEmail        string     `json:"owner_email"`
	Filename          string     `json:"filename"`
	InputBlob         string     `json:"input_blob"`
	NormalizedBlob    string     `json:"normalized_blob"`
	ConceptResultBlob string     `json:"concept_result_blob"`
	ClusterResultBlob string     `json:"cluster_result_blob"`
	JobHandle         string     `json:"job_handle"`
	RecordCount       int        `json:"record_count"`
	ErrorMessage      string     `json:"error_message"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a task in the created state pointing at an uploaded input blob.
func NewTask(id, ownerEmail, filename, inputBlob string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:         id,
		Status:     TaskStatusCreated,
		OwnerEmail: ownerEmail,
		Filename:   filename,
		InputBlob:  inputBlob,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks the invariants that hold for every persisted task.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTaskID
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if t.Status == TaskStatusCompleted && t.CompletedAt == nil {
		return fmt.Errorf("%w: completed task without completed_at", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so mutators can work on a scratch value.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// TransitionTo moves the task to the given non-terminal-entry status.
// Use Complete and Fail for the terminal states.
func (t *Task) TransitionTo(status TaskStatus) error {
	if status == TaskStatusCompleted || status == TaskStatusFailed {
		return fmt.Errorf("%w: use Complete or Fail for %s", ErrInvalidTransition, status)
	}
	if !CanTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the task completed at the given time.
func (t *Task) Complete(at time.Time) error {
	if t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusCompleted)
	}
	at = at.UTC()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &at
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the task failed with a message. The job handle is left as is.
func (t *Task) Fail(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyFailureMessage
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, t.Status)
	}
	t.Status = TaskStatusFailed
	t.ErrorMessage = message
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SetJobHandle records the external batch job. A handle is written once.
func (t *Task) SetJobHandle(handle string) error {
	if handle == "" {
		return ErrEmptyJobHandle
	}
	if t.JobHandle != "" && t.JobHandle != handle {
		return fmt.Errorf("%w: %s", ErrJobHandleAlreadySet, t.JobHandle)
	}
	t.JobHandle = handle
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SetBlob assigns a blob pointer, refusing to overwrite a different key.
func SetBlob(field *string, key string) error {
	if *field != "" && *field != key {
		return fmt.Errorf("%w: %s", ErrBlobAlreadySet, *field)
	}
	*field = key
	return nil
}

// Reopen is the operator reprocessing path for a failed task. A task whose
// batch job was already submitted goes back to processing so the next
// invocation re-attaches to that job; otherwise it restarts from uploaded.
func (t *Task) Reopen() error {
	if t.Status != TaskStatusFailed {
		return fmt.Errorf("%w: status is %s", ErrNotReopenable, t.Status)
	}
	if t.JobHandle != "" {
		t.Status = TaskStatusProcessing
	} else {
		t.Status = TaskStatusUploaded
	}
	t.ErrorMessage = ""
	t.UpdatedAt = time.Now().UTC()
	return nil
}
