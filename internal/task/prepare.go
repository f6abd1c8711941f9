package task

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/convert"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// PrepKind classifies how the preparation phase ended.
type PrepKind int

const (
	PrepOK PrepKind = iota
	PrepValidationFailed
	PrepStorageFailed
	PrepSubmitFailed
	PrepInterrupted
)

func (k PrepKind) String() string {
	switch k {
	case PrepOK:
		return "ok"
	case PrepValidationFailed:
		return "validation_failed"
	case PrepStorageFailed:
		return "storage_failed"
	case PrepSubmitFailed:
		return "submit_failed"
	case PrepInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("prep(%d)", int(k))
	}
}

// PreparationResult is the typed outcome of steps a through g. Task is the
// last persisted snapshot. Handle is set once a job was submitted, even if
// persisting it failed afterwards.
type PreparationResult struct {
	Kind    PrepKind
	Task    *domain.Task
	Records []domain.Record
	Handle  batch.Handle
	Err     error
}

// Message is the user-facing error text stored on a failed task.
func (r PreparationResult) Message() string {
	if r.Err == nil {
		return ""
	}
	var verr *convert.ValidationError
	if errors.As(r.Err, &verr) {
		return verr.Message
	}
	return r.Err.Error()
}

func prepFailed(kind PrepKind, t *domain.Task, err error) PreparationResult {
	return PreparationResult{Kind: kind, Task: t, Err: err}
}

// prepare runs the preparation phase. Steps whose checkpoint is already
// persisted are skipped, so a task re-entering at converted or queued does
// not convert its input again.
func (o *Orchestrator) prepare(ctx context.Context, t *domain.Task) PreparationResult {
	log := logger.FromContext(ctx)

	t, err := o.checkpoint(ctx, t, advanceTo(domain.TaskStatusUploaded))
	if err != nil {
		return o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("persist uploaded: %w", err))
	}

	var records []domain.Record
	if t.Status.AtOrPast(domain.TaskStatusConverted) && t.NormalizedBlob != "" {
		log.Info("normalized records already stored, skipping conversion", "normalized_blob", t.NormalizedBlob)
		records, err = o.loadNormalized(ctx, t)
		if err != nil {
			return o.interruptedOr(ctx, PrepStorageFailed, t, err)
		}
	} else {
		var res PreparationResult
		records, res = o.convertInput(ctx, t)
		if res.Kind != PrepOK {
			return res
		}
		if t, res = o.storeNormalized(ctx, t, records); res.Kind != PrepOK {
			return res
		}
	}

	for _, status := range []domain.TaskStatus{domain.TaskStatusQueued, domain.TaskStatusProcessing} {
		t, err = o.checkpoint(ctx, t, advanceTo(status))
		if err != nil {
			return o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("persist %s: %w", status, err))
		}
	}

	return o.submitAndRecord(ctx, t, records)
}

// convertInput fetches the input file and runs the converter. Every failure
// here is an input or storage error and leaves the job handle unset.
func (o *Orchestrator) convertInput(ctx context.Context, t *domain.Task) ([]domain.Record, PreparationResult) {
	log := logger.FromContext(ctx)

	if t.InputBlob == "" {
		return nil, prepFailed(PrepValidationFailed, t, errors.New("task has no input file"))
	}
	data, err := o.getBlob(ctx, t.InputBlob)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return nil, prepFailed(PrepValidationFailed, t, fmt.Errorf("input file not found: %s", t.InputBlob))
	case err != nil:
		return nil, o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("read input file: %w", err))
	}

	records, err := o.converter.Convert(data, formatHint(t))
	if err != nil {
		log.Warn("input file rejected", "error", err)
		return nil, prepFailed(PrepValidationFailed, t, err)
	}
	log.Info("input file converted", "record_count", len(records), "bytes", len(data))
	return records, PreparationResult{Kind: PrepOK, Task: t}
}

// storeNormalized persists converted, writes the JSONL records and records
// their key on the task.
func (o *Orchestrator) storeNormalized(ctx context.Context, t *domain.Task, records []domain.Record) (*domain.Task, PreparationResult) {
	t, err := o.checkpoint(ctx, t, advanceTo(domain.TaskStatusConverted))
	if err != nil {
		return t, o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("persist converted: %w", err))
	}

	data, err := convert.EncodeJSONL(records)
	if err != nil {
		return t, prepFailed(PrepStorageFailed, t, fmt.Errorf("encode normalized records: %w", err))
	}
	key, err := o.putBlob(ctx, blob.ProcessedKey(t.ID), data)
	if err != nil {
		return t, o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("store normalized records: %w", err))
	}

	count := len(records)
	t, err = o.checkpoint(ctx, t, func(t *domain.Task) error {
		if err := domain.SetBlob(&t.NormalizedBlob, key); err != nil {
			return err
		}
		t.RecordCount = count
		return nil
	})
	if err != nil {
		return t, o.interruptedOr(ctx, PrepStorageFailed, t, fmt.Errorf("persist normalized blob: %w", err))
	}
	logger.FromContext(ctx).Info("normalized records stored", "normalized_blob", key)
	return t, PreparationResult{Kind: PrepOK, Task: t}
}

// submitAndRecord submits the batch job and persists its handle before
// anything else happens. The handle write ignores cancellation: once the
// job exists the task must point at it.
func (o *Orchestrator) submitAndRecord(ctx context.Context, t *domain.Task, records []domain.Record) PreparationResult {
	log := logger.FromContext(ctx)

	handle, err := o.submit(ctx, t, records)
	if err != nil {
		if ctx.Err() != nil {
			return PreparationResult{Kind: PrepInterrupted, Task: t, Err: ctx.Err()}
		}
		return PreparationResult{Kind: PrepSubmitFailed, Task: t, Err: fmt.Errorf("submit batch job: %w", err)}
	}

	t, err = o.checkpoint(context.WithoutCancel(ctx), t, setJobHandle(handle))
	if err != nil {
		return PreparationResult{Kind: PrepStorageFailed, Task: t, Handle: handle, Err: fmt.Errorf("persist job handle: %w", err)}
	}
	log.Info("batch job submitted", "job_handle", handle, "record_count", len(records))
	return PreparationResult{Kind: PrepOK, Task: t, Records: records, Handle: handle}
}

// submit calls Submit at most once per successful attempt. Before every
// retry, and when the service reports the job id as taken, the job is
// looked up by id and adopted instead of submitted again.
func (o *Orchestrator) submit(ctx context.Context, t *domain.Task, records []domain.Record) (batch.Handle, error) {
	log := logger.FromContext(ctx)
	jobID := batch.JobIDForTask(t.ID)

	var handle batch.Handle
	attempt := 0
	err := o.retry(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			h, found, err := o.batch.Lookup(ctx, jobID)
			if err != nil {
				return retryIf(err, batch.IsRetryable(err))
			}
			if found {
				log.Info("adopting batch job found before resubmitting", "job_id", jobID, "job_handle", h)
				handle = h
				return nil
			}
		}

		h, err := o.batch.Submit(ctx, records, jobID, o.cfg.BatchConfig)
		switch {
		case err == nil:
			handle = h
			return nil
		case errors.Is(err, batch.ErrJobExists):
			h, found, lerr := o.batch.Lookup(ctx, jobID)
			if lerr != nil {
				return retryIf(lerr, batch.IsRetryable(lerr))
			}
			if !found {
				return fmt.Errorf("job %s reported as existing but lookup found nothing: %w", jobID, err)
			}
			log.Info("adopting existing batch job", "job_id", jobID, "job_handle", h)
			handle = h
			return nil
		default:
			return retryIf(err, batch.IsRetryable(err))
		}
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// loadNormalized reads the task's stored JSONL records.
func (o *Orchestrator) loadNormalized(ctx context.Context, t *domain.Task) ([]domain.Record, error) {
	if t.NormalizedBlob == "" {
		return nil, errors.New("task has no normalized records")
	}
	data, err := o.getBlob(ctx, t.NormalizedBlob)
	if err != nil {
		return nil, fmt.Errorf("read normalized records %s: %w", t.NormalizedBlob, err)
	}
	records, err := convert.DecodeJSONL(data)
	if err != nil {
		return nil, fmt.Errorf("decode normalized records %s: %w", t.NormalizedBlob, err)
	}
	return records, nil
}

// interruptedOr reports a cancelled context as an interruption rather than a
// failure; the next invocation resumes from the last checkpoint.
func (o *Orchestrator) interruptedOr(ctx context.Context, kind PrepKind, t *domain.Task, err error) PreparationResult {
	if ctx.Err() != nil {
		return PreparationResult{Kind: PrepInterrupted, Task: t, Err: ctx.Err()}
	}
	return prepFailed(kind, t, err)
}

// formatHint prefers the stored key's extension and falls back to the
// uploaded filename.
func formatHint(t *domain.Task) string {
	if path.Ext(t.InputBlob) != "" {
		return t.InputBlob
	}
	return t.Filename
}
