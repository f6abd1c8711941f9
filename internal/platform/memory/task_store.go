// Package memory provides an in-process store.TaskStore used by tests and
// local dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/store"
)

// TaskStore keeps tasks in a map guarded by a mutex. Returned tasks are
// copies, so callers can never change stored state without Update.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*domain.Task)}
}

// Create inserts a copy of task.
func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return store.NewStoreError("task", "create", "invalid task", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
	}

	c := task.Clone()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	s.tasks[c.ID] = c
	return nil
}

// Get returns a copy of the stored task.
func (s *TaskStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// Update applies mutate under the store lock and swaps in the result.
func (s *TaskStore) Update(_ context.Context, id string, mutate store.Mutator) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}

	next, err := store.ApplyMutation(current, mutate)
	if err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

// ListByStatus returns copies of matching tasks, oldest first.
func (s *TaskStore) ListByStatus(_ context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
