package mocks

import (
	"context"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/store"
)

// MockTaskStore implements store.TaskStore with function fields. Calls whose
// function is nil fall through to Next when set, otherwise they return zero
// values.
type MockTaskStore struct {
	CreateFn       func(ctx context.Context, task *domain.Task) error
	GetFn          func(ctx context.Context, id string) (*domain.Task, error)
	UpdateFn       func(ctx context.Context, id string, mutate store.Mutator) (*domain.Task, error)
	ListByStatusFn func(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)

	// Next is the store calls are delegated to when no function is set.
	Next store.TaskStore
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// Create implements store.TaskStore.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	if m.Next != nil {
		return m.Next.Create(ctx, task)
	}
	return nil
}

// Get implements store.TaskStore.
func (m *MockTaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	if m.Next != nil {
		return m.Next.Get(ctx, id)
	}
	return nil, store.ErrTaskNotFound
}

// Update implements store.TaskStore.
func (m *MockTaskStore) Update(ctx context.Context, id string, mutate store.Mutator) (*domain.Task, error) {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, id, mutate)
	}
	if m.Next != nil {
		return m.Next.Update(ctx, id, mutate)
	}
	return nil, store.ErrTaskNotFound
}

// ListByStatus implements store.TaskStore.
func (m *MockTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	if m.ListByStatusFn != nil {
		return m.ListByStatusFn(ctx, status, limit)
	}
	if m.Next != nil {
		return m.Next.ListByStatus(ctx, status, limit)
	}
	return nil, nil
}
