package store

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/kcjob/internal/domain"
)

// Mutator changes a scratch copy of a task. Returning an error aborts the
// update and nothing is written.
type Mutator func(t *domain.Task) error

// TaskStore defines the interface for persisting tasks.
type TaskStore interface {
	// Create inserts a new task. It returns ErrTaskExists if the id is taken.
	Create(ctx context.Context, task *domain.Task) error

	// Get loads a task by id. It returns ErrTaskNotFound for unknown ids.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Update applies mutate to the current task and durably persists the
	// result before returning it. A failed write leaves the stored task
	// untouched.
	Update(ctx context.Context, id string, mutate Mutator) (*domain.Task, error)

	// ListByStatus returns tasks in the given status, oldest first. A limit
	// of zero or less means no limit.
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)
}

// ApplyMutation runs mutate against a clone of current, validates the
// result and stamps UpdatedAt. Every backend routes updates through it.
func ApplyMutation(current *domain.Task, mutate Mutator) (*domain.Task, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID {
		return nil, NewStoreError("task", "update", "task id is immutable", ErrInvalidEntity)
	}
	if err := next.Validate(); err != nil {
		return nil, NewStoreError("task", "update", "invalid task", errors.Join(ErrInvalidEntity, err))
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
