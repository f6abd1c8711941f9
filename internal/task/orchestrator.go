package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/cluster"
	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/store"
)

// Outcome is how one invocation of Run ended.
type Outcome int

const (
	// OutcomeNoop means the task was already terminal and nothing was done.
	OutcomeNoop Outcome = iota
	// OutcomeCompleted means the task reached completed in this invocation.
	OutcomeCompleted
	// OutcomeFailed means the task reached failed in this invocation.
	OutcomeFailed
	// OutcomeStalled means the task is processing but its batch job cannot
	// be resolved; the status was left as is for an operator.
	OutcomeStalled
	// OutcomeInterrupted means the context was cancelled; the persisted
	// checkpoints are intact and the next invocation resumes from them.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoop:
		return "noop"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeStalled:
		return "stalled"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Converter turns raw file bytes into records. The hint names the format.
type Converter interface {
	Convert(data []byte, hint string) ([]domain.Record, error)
}

// Collector builds result tables from a succeeded batch job.
type Collector interface {
	Collect(ctx context.Context, handle batch.Handle, records []domain.Record) (*cluster.Result, error)
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     store.TaskStore
	Blobs     blob.Store
	Converter Converter
	Batch     batch.Client
	Collector Collector
	Notifier  notify.Notifier
}

// Config bounds retries and the completion poll loop.
type Config struct {
	PollInterval   time.Duration
	MaxWait        time.Duration
	RetryAttempts  uint64
	RetryBaseDelay time.Duration
	MaxPollErrors  int
	SiteURL        string
	BatchConfig    batch.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Minute,
		MaxWait:        6 * time.Hour,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		MaxPollErrors:  5,
	}
}

// ConfigFrom assembles orchestrator settings from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval:   cfg.Orchestrator.PollInterval,
		MaxWait:        cfg.Orchestrator.MaxWait,
		RetryAttempts:  cfg.Orchestrator.RetryAttempts,
		RetryBaseDelay: cfg.Orchestrator.RetryBaseDelay,
		MaxPollErrors:  cfg.Orchestrator.MaxPollErrors,
		SiteURL:        cfg.Notify.SiteURL,
		BatchConfig:    batch.Config(cfg.Batch.Params),
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper replaces the poll loop's wait between polls. The function must
// return ctx.Err() when ctx is cancelled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// Orchestrator drives one task through its lifecycle per call to Run,
// persisting a checkpoint after every durable step.
type Orchestrator struct {
	store     store.TaskStore
	blobs     blob.Store
	converter Converter
	batch     batch.Client
	collector Collector
	notifier  notify.Notifier

	cfg   Config
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates deps and cfg and returns an Orchestrator.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("task store is required")
	case deps.Blobs == nil:
		return nil, errors.New("blob store is required")
	case deps.Converter == nil:
		return nil, errors.New("converter is required")
	case deps.Batch == nil:
		return nil, errors.New("batch client is required")
	case deps.Collector == nil:
		return nil, errors.New("result collector is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	}

	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.MaxPollErrors <= 0 {
		cfg.MaxPollErrors = def.MaxPollErrors
	}

	o := &Orchestrator{
		store:     deps.Store,
		blobs:     deps.Blobs,
		converter: deps.Converter,
		batch:     deps.Batch,
		collector: deps.Collector,
		notifier:  deps.Notifier,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the entry protocol once for taskID. The returned error is
// non-nil only when the protocol itself could not run to a decision: the
// task does not exist, or a failure could not be persisted. A task that
// fails in this invocation is reported as OutcomeFailed with a nil error.
func (o *Orchestrator) Run(ctx context.Context, taskID string) (Outcome, error) {
	ctx, log := logger.With(ctx,
		"task_id", taskID,
		"invocation_id", uuid.NewString())

	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Error("task not found")
		}
		return OutcomeNoop, fmt.Errorf("load task %s: %w", taskID, err)
	}
	log.Info("task loaded", "status", t.Status, "job_handle", t.JobHandle)

	switch t.Status {
	case domain.TaskStatusCompleted:
		log.Info("task already completed, nothing to do")
		return OutcomeNoop, nil
	case domain.TaskStatusFailed:
		log.Info("task previously failed, operator reprocessing required")
		return OutcomeNoop, nil
	case domain.TaskStatusProcessing:
		return o.resume(ctx, t)
	default:
		return o.start(ctx, t)
	}
}

// start runs the preparation phase and dispatches on its result.
func (o *Orchestrator) start(ctx context.Context, t *domain.Task) (Outcome, error) {
	res := o.prepare(ctx, t)
	switch res.Kind {
	case PrepOK:
		return o.await(ctx, res.Task, res.Handle, res.Records)
	case PrepInterrupted:
		logger.FromContext(ctx).Info("preparation interrupted", "status", res.Task.Status)
		return OutcomeInterrupted, nil
	default:
		return o.fail(ctx, res.Task, res.Handle, res.Message())
	}
}

// resume re-attaches to the batch job of a task found in processing.
func (o *Orchestrator) resume(ctx context.Context, t *domain.Task) (Outcome, error) {
	log := logger.FromContext(ctx)

	if t.JobHandle == "" {
		return o.resumeWithoutHandle(ctx, t)
	}

	handle := batch.Handle(t.JobHandle)
	status, err := o.batch.Poll(ctx, handle)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return OutcomeInterrupted, nil
	case errors.Is(err, batch.ErrJobNotFound):
		log.Error("batch job cannot be resolved, leaving task in processing",
			"job_handle", t.JobHandle, "error", err)
		return OutcomeStalled, nil
	default:
		// Transient lookup failures are handled by the poll loop's error budget.
		log.Warn("initial poll failed, entering poll loop", "error", err)
		return o.await(ctx, t, handle, nil)
	}

	log.Info("re-attached to batch job", "job_handle", t.JobHandle, "job_state", status.State)
	if status.State.IsTerminal() {
		return o.finish(ctx, t, handle, status, nil)
	}
	return o.await(ctx, t, handle, nil)
}

// resumeWithoutHandle covers a crash after persisting processing but before
// persisting the job handle. The derived job id tells whether the submission
// happened: an existing job is adopted, otherwise the stored records are
// submitted.
func (o *Orchestrator) resumeWithoutHandle(ctx context.Context, t *domain.Task) (Outcome, error) {
	log := logger.FromContext(ctx)
	jobID := batch.JobIDForTask(t.ID)

	var (
		handle batch.Handle
		found  bool
	)
	err := o.retry(ctx, func(ctx context.Context) error {
		h, ok, err := o.batch.Lookup(ctx, jobID)
		if err != nil {
			return retryIf(err, batch.IsRetryable(err))
		}
		handle, found = h, ok
		return nil
	})
	switch {
	case ctx.Err() != nil:
		return OutcomeInterrupted, nil
	case err != nil:
		log.Error("batch job lookup failed, leaving task in processing", "job_id", jobID, "error", err)
		return OutcomeStalled, nil
	}

	if found {
		log.Info("found submitted batch job without a persisted handle", "job_id", jobID, "job_handle", handle)
		t, err = o.checkpoint(context.WithoutCancel(ctx), t, setJobHandle(handle))
		if err != nil {
			return o.fail(ctx, t, handle, fmt.Sprintf("persist job handle: %v", err))
		}
		return o.await(ctx, t, handle, nil)
	}

	if t.NormalizedBlob == "" {
		log.Error("processing task has neither a batch job nor normalized records, leaving task in processing", "job_id", jobID)
		return OutcomeStalled, nil
	}

	// The lookup proved no job exists under the derived id, so submitting
	// cannot start a second computation.
	log.Info("no batch job exists for task, submitting", "job_id", jobID)
	records, err := o.loadNormalized(ctx, t)
	if err != nil {
		return o.failOrInterrupt(ctx, t, "", err)
	}
	res := o.submitAndRecord(ctx, t, records)
	switch res.Kind {
	case PrepOK:
		return o.await(ctx, res.Task, res.Handle, records)
	case PrepInterrupted:
		return OutcomeInterrupted, nil
	default:
		return o.fail(ctx, res.Task, res.Handle, res.Message())
	}
}

// checkpoint persists one mutation and returns the stored task. On error the
// previous task value is returned so callers keep a usable snapshot.
func (o *Orchestrator) checkpoint(ctx context.Context, t *domain.Task, mutate store.Mutator) (*domain.Task, error) {
	next, err := o.store.Update(ctx, t.ID, mutate)
	if err != nil {
		return t, err
	}
	logger.FromContext(ctx).Debug("checkpoint persisted", "status", next.Status)
	return next, nil
}

// advanceTo moves a task forward to status, skipping the write's effect
// when the stored task already reached it.
func advanceTo(status domain.TaskStatus) store.Mutator {
	return func(t *domain.Task) error {
		if !t.Status.IsTerminal() && t.Status.AtOrPast(status) {
			return nil
		}
		return t.TransitionTo(status)
	}
}

func setJobHandle(handle batch.Handle) store.Mutator {
	return func(t *domain.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrTaskTerminal, t.Status)
		}
		return t.SetJobHandle(handle.String())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
