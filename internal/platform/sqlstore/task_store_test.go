package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/migrations"
	"github.com/phrazzld/kcjob/internal/platform/sqlite"
	"github.com/phrazzld/kcjob/internal/platform/sqlstore"
	"github.com/phrazzld/kcjob/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*sqlstore.TaskStore, *sql.DB) {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, config.DatabaseConfig{URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(ctx, db, sqlite.DriverName))
	return sqlite.NewTaskStore(db), db
}

func createTask(t *testing.T, s *sqlstore.TaskStore, id string) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(id, "teacher@example.edu", "quiz.csv", "uploads/"+id+".csv")
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))
	return task
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created := createTask(t, s, "T1")

	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.TaskStatusCreated, got.Status)
	assert.Equal(t, "teacher@example.edu", got.OwnerEmail)
	assert.Equal(t, "uploads/T1.csv", got.InputBlob)
	assert.Empty(t, got.JobHandle)
	assert.Nil(t, got.CompletedAt)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	err = s.Create(ctx, created)
	assert.ErrorIs(t, err, store.ErrTaskExists)
}

func TestTaskStore_GetNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_UpdatePersists(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTask(t, s, "T1")

	steps := []domain.TaskStatus{
		domain.TaskStatusUploaded,
		domain.TaskStatusConverted,
		domain.TaskStatusQueued,
		domain.TaskStatusProcessing,
	}
	for _, status := range steps {
		_, err := s.Update(ctx, "T1", func(t *domain.Task) error { return t.TransitionTo(status) })
		require.NoError(t, err)
	}

	completedAt := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	updated, err := s.Update(ctx, "T1", func(t *domain.Task) error {
		if err := t.SetJobHandle("kc-task-T1"); err != nil {
			return err
		}
		t.ConceptResultBlob = "concepts/task_T1_concepts.csv"
		t.ClusterResultBlob = "kclusters/task_T1_kclusters.csv"
		t.RecordCount = 2
		return t.Complete(completedAt)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, updated.Status)

	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "kc-task-T1", got.JobHandle)
	assert.Equal(t, "concepts/task_T1_concepts.csv", got.ConceptResultBlob)
	assert.Equal(t, "kclusters/task_T1_kclusters.csv", got.ClusterResultBlob)
	assert.Equal(t, 2, got.RecordCount)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))
}

func TestTaskStore_UpdateMutatorErrorWritesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTask(t, s, "T1")

	_, err := s.Update(ctx, "T1", func(t *domain.Task) error {
		t.ErrorMessage = "should not persist"
		return t.TransitionTo(domain.TaskStatusCompleted)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCreated, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestTaskStore_UpdateNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	called := false
	_, err := s.Update(context.Background(), "nope", func(*domain.Task) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.False(t, called)
}

func TestTaskStore_UpdateWriteFailure(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	createTask(t, s, "T1")

	require.NoError(t, db.Close())

	_, err := s.Update(ctx, "T1", func(t *domain.Task) error {
		return t.TransitionTo(domain.TaskStatusUploaded)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUpdateFailed) || errors.Is(err, store.ErrTransactionFailed))
}

func TestTaskStore_ListByStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		createTask(t, s, id)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := s.Update(ctx, "B", func(t *domain.Task) error { return t.Fail("bad file") })
	require.NoError(t, err)

	created, err := s.ListByStatus(ctx, domain.TaskStatusCreated, 0)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "A", created[0].ID)
	assert.Equal(t, "C", created[1].ID)

	limited, err := s.ListByStatus(ctx, domain.TaskStatusCreated, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "A", limited[0].ID)

	failed, err := s.ListByStatus(ctx, domain.TaskStatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad file", failed[0].ErrorMessage)
}

func TestTaskStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTask(t, s, "T1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "T1", func(t *domain.Task) error {
				t.RecordCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.RecordCount)
}
