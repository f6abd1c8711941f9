package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/store"
)

// sweepStatuses are the non-terminal statuses a sweep picks up, furthest
// along first so in-flight batch jobs are re-attached before new work starts.
var sweepStatuses = []domain.TaskStatus{
	domain.TaskStatusProcessing,
	domain.TaskStatusQueued,
	domain.TaskStatusConverted,
	domain.TaskStatusUploaded,
	domain.TaskStatusCreated,
}

// SweeperConfig holds configuration for a sweep.
type SweeperConfig struct {
	WorkerCount int
	// Limit caps the tasks listed per status. Zero means no limit.
	Limit int
}

// SweepReport counts the outcomes of one sweep.
type SweepReport struct {
	Results []Result
	Counts  map[Outcome]int
	Errors  int
}

// Sweeper recovers unfinished tasks after a worker restart by running the
// entry protocol for every non-terminal task in the store.
type Sweeper struct {
	store  store.TaskStore
	pool   *WorkerPool
	config SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a Sweeper running tasks through runner.
func NewSweeper(s store.TaskStore, runner Runner, config SweeperConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  s,
		pool:   NewWorkerPool(runner, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger),
		config: config,
		logger: logger,
	}
}

// Sweep lists non-terminal tasks and runs each once.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, status := range sweepStatuses {
		tasks, err := s.store.ListByStatus(ctx, status, s.config.Limit)
		if err != nil {
			return nil, fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, t := range tasks {
			if !seen[t.ID] {
				seen[t.ID] = true
				ids = append(ids, t.ID)
			}
		}
		if len(tasks) > 0 {
			s.logger.Info("recovering unfinished tasks", "status", status, "count", len(tasks))
		}
	}

	report := &SweepReport{Counts: make(map[Outcome]int)}
	report.Results = s.pool.Run(ctx, ids)
	for _, r := range report.Results {
		report.Counts[r.Outcome]++
		if r.Err != nil {
			report.Errors++
		}
	}
	s.logger.Info("sweep finished",
		"tasks", len(ids),
		"completed", report.Counts[OutcomeCompleted],
		"failed", report.Counts[OutcomeFailed],
		"stalled", report.Counts[OutcomeStalled],
		"interrupted", report.Counts[OutcomeInterrupted],
		"errors", report.Errors)
	return report, nil
}
