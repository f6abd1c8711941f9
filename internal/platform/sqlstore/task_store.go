package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/store"
)

const taskColumns = `id, status, owner_email, filename, input_blob, normalized_blob,
	concept_result_blob, cluster_result_blob, job_handle, record_count,
	error_message, created_at, updated_at, completed_at`

// TaskStore implements store.TaskStore over a SQL database.
type TaskStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.TaskStore = (*TaskStore)(nil)

// New creates a TaskStore for db using the given dialect.
func New(db *sql.DB, dialect Dialect) *TaskStore {
	return &TaskStore{db: db, dialect: dialect}
}

// Create inserts a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return store.NewStoreError("task", "create", "invalid task", errors.Join(store.ErrInvalidEntity, err))
	}

	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}

	query := s.dialect.Rebind(`INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Status),
		task.OwnerEmail,
		task.Filename,
		task.InputBlob,
		task.NormalizedBlob,
		task.ConceptResultBlob,
		task.ClusterResultBlob,
		task.JobHandle,
		task.RecordCount,
		task.ErrorMessage,
		nullTime{Time: task.CreatedAt.UTC(), Valid: true},
		nullTime{Time: task.UpdatedAt.UTC(), Valid: true},
		fromPtr(task.CompletedAt),
	)
	if err != nil {
		err = s.dialect.mapError(err)
		if store.IsDuplicateError(err) {
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
		}
		log.Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return store.NewStoreError("task", "create", "failed to insert task", err)
	}

	return nil
}

// Get loads a task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.getTask(ctx, s.db, id, "")
}

// Update reads the task, applies mutate and writes the result inside one
// transaction. The row is locked for the duration where the dialect supports it.
func (s *TaskStore) Update(ctx context.Context, id string, mutate store.Mutator) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	var (
		updated     *domain.Task
		mutationErr error
	)

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := s.getTask(ctx, tx, id, s.dialect.LockClause)
		if err != nil {
			return err
		}

		next, err := store.ApplyMutation(current, mutate)
		if err != nil {
			mutationErr = err
			return err
		}

		query := s.dialect.Rebind(`UPDATE tasks SET
			status = ?, owner_email = ?, filename = ?, input_blob = ?,
			normalized_blob = ?, concept_result_blob = ?, cluster_result_blob = ?,
			job_handle = ?, record_count = ?, error_message = ?,
			updated_at = ?, completed_at = ?
			WHERE id = ?`)

		result, err := tx.ExecContext(ctx, query,
			string(next.Status),
			next.OwnerEmail,
			next.Filename,
			next.InputBlob,
			next.NormalizedBlob,
			next.ConceptResultBlob,
			next.ClusterResultBlob,
			next.JobHandle,
			next.RecordCount,
			next.ErrorMessage,
			nullTime{Time: next.UpdatedAt, Valid: true},
			fromPtr(next.CompletedAt),
			next.ID,
		)
		if err != nil {
			return s.dialect.mapError(err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		updated = next
		return nil
	})

	switch {
	case err == nil:
		return updated, nil
	case mutationErr != nil:
		return nil, mutationErr
	case store.IsNotFoundError(err):
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	default:
		log.Error("failed to update task",
			"task_id", id,
			"error", err)
		return nil, store.NewStoreError("task", "update", "failed to persist task",
			errors.Join(store.ErrUpdateFailed, err))
	}
}

// ListByStatus returns tasks in status, oldest first.
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		log.Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, store.NewStoreError("task", "list", "failed to query tasks", s.dialect.mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "failed to scan task row", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "error iterating task rows", s.dialect.mapError(err))
	}

	return tasks, nil
}

func (s *TaskStore) getTask(ctx context.Context, db store.DBTX, id, lock string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	if lock != "" {
		query += " " + lock
	}

	task, err := scanTask(db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return nil, store.NewStoreError("task", "get", "failed to load task", s.dialect.mapError(err))
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                               domain.Task
		status                          string
		createdAt, updatedAt, completed nullTime
	)

	err := row.Scan(
		&t.ID,
		&status,
		&t.OwnerEmail,
		&t.Filename,
		&t.InputBlob,
		&t.NormalizedBlob,
		&t.ConceptResultBlob,
		&t.ClusterResultBlob,
		&t.JobHandle,
		&t.RecordCount,
		&t.ErrorMessage,
		&createdAt,
		&updatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}
