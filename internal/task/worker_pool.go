package task

import (
	"context"
	"log/slog"
	"sync"
)

// Runner executes the entry protocol for one task id.
type Runner interface {
	Run(ctx context.Context, taskID string) (Outcome, error)
}

var _ Runner = (*Orchestrator)(nil)

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many tasks are orchestrated concurrently.
	// If zero or negative, defaults to 1.
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{WorkerCount: 1}
}

// Result is the outcome of one task run by the pool.
type Result struct {
	TaskID  string
	Outcome Outcome
	Err     error
}

// WorkerPool runs independent tasks through a Runner with bounded
// concurrency. Tasks share nothing but the task store, so workers need no
// coordination beyond the id channel.
type WorkerPool struct {
	runner      Runner
	workerCount int
	logger      *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(runner Runner, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	return &WorkerPool{
		runner:      runner,
		workerCount: workerCount,
		logger:      logger,
	}
}

// Run orchestrates every id and returns one Result per id, in input order.
// Ids not yet started when ctx is cancelled are reported as interrupted.
func (p *WorkerPool) Run(ctx context.Context, ids []string) []Result {
	results := make([]Result, len(ids))
	for i, id := range ids {
		results[i] = Result{TaskID: id, Outcome: OutcomeInterrupted}
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.workerCount; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.logger.Debug("starting worker", "worker_id", workerID)
			for i := range jobs {
				outcome, err := p.runner.Run(ctx, ids[i])
				results[i] = Result{TaskID: ids[i], Outcome: outcome, Err: err}
				if err != nil {
					p.logger.Error("task run failed",
						"task_id", ids[i],
						"worker_id", workerID,
						"error", err)
				}
			}
			p.logger.Debug("stopping worker", "worker_id", workerID)
		}(w)
	}

dispatch:
	for i := range ids {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
