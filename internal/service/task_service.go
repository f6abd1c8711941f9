package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/store"
)

// DefaultListLimit bounds ListTasks when the caller passes no limit.
const DefaultListLimit = 100

// TaskService provides the operator operations on tasks.
type TaskService interface {
	// GetTask returns the task with its blob pointers.
	GetTask(ctx context.Context, id string) (*domain.Task, error)

	// ListTasks returns tasks in status, oldest first.
	ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)

	// FailTask forces a non-terminal task to failed with reason. The
	// external batch job, if any, is not cancelled.
	FailTask(ctx context.Context, id, reason string) (*domain.Task, error)

	// ReprocessTask reopens a failed task so the next orchestrator run picks
	// it up: at processing when a batch job was submitted, else at uploaded.
	ReprocessTask(ctx context.Context, id string) (*domain.Task, error)
}

type taskServiceImpl struct {
	store    store.TaskStore
	notifier notify.Notifier
	siteURL  string
	logger   *slog.Logger
}

// NewTaskService creates a TaskService. The notifier may be nil, in which
// case operator overrides send no notification.
func NewTaskService(s store.TaskStore, notifier notify.Notifier, siteURL string, logger *slog.Logger) (TaskService, error) {
	if s == nil {
		return nil, &ServiceError{Service: "task", Op: "create_service", Err: errors.New("task store cannot be nil")}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &taskServiceImpl{
		store:    s,
		notifier: notifier,
		siteURL:  siteURL,
		logger:   logger.With("component", "task_service"),
	}, nil
}

func (s *taskServiceImpl) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.mapError("get", id, err)
	}
	return t, nil
}

func (s *taskServiceImpl) ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	tasks, err := s.store.ListByStatus(ctx, status, limit)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err, "status", status)
		return nil, NewServiceError("task", "list", err)
	}
	return tasks, nil
}

func (s *taskServiceImpl) FailTask(ctx context.Context, id, reason string) (*domain.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a failure reason is required", ErrInvalidInput)
	}

	t, err := s.store.Update(ctx, id, func(t *domain.Task) error {
		return t.Fail(reason)
	})
	if err != nil {
		return nil, s.mapError("fail", id, err)
	}
	s.logger.Warn("task failed by operator",
		"task_id", id,
		"reason", reason,
		"job_handle", t.JobHandle)

	if s.notifier != nil {
		if err := s.notifier.NotifyFailed(ctx, t.OwnerEmail, notify.NewSummary(t, s.siteURL)); err != nil {
			s.logger.Error("failure notification failed", "error", err, "task_id", id)
		}
	}
	return t, nil
}

func (s *taskServiceImpl) ReprocessTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := s.store.Update(ctx, id, func(t *domain.Task) error {
		return t.Reopen()
	})
	if err != nil {
		return nil, s.mapError("reprocess", id, err)
	}
	s.logger.Info("task reopened for reprocessing",
		"task_id", id,
		"status", t.Status,
		"job_handle", t.JobHandle)
	return t, nil
}

// mapError translates store and domain errors into service sentinels.
func (s *taskServiceImpl) mapError(op, id string, err error) error {
	switch {
	case store.IsNotFoundError(err):
		return ErrTaskNotFound
	case errors.Is(err, domain.ErrTaskTerminal):
		return ErrTaskTerminal
	case errors.Is(err, domain.ErrNotReopenable):
		return ErrNotReprocessable
	}
	s.logger.Error("task operation failed", "error", err, "operation", op, "task_id", id)
	return NewServiceError("task", op, err)
}
