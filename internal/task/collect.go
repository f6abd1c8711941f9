package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// finish dispatches on a terminal job state.
func (o *Orchestrator) finish(ctx context.Context, t *domain.Task, handle batch.Handle, status batch.JobStatus, records []domain.Record) (Outcome, error) {
	if status.State == batch.StateFailed {
		reason := status.Reason
		if reason == "" {
			reason = "no reason reported"
		}
		return o.fail(ctx, t, handle, fmt.Sprintf("batch job %s failed: %s", handle, reason))
	}
	return o.collect(ctx, t, handle, records)
}

// collect writes both result tables, then completes the task. Tables that
// were already recorded by an earlier invocation are not rebuilt.
func (o *Orchestrator) collect(ctx context.Context, t *domain.Task, handle batch.Handle, records []domain.Record) (Outcome, error) {
	log := logger.FromContext(ctx)

	if t.ConceptResultBlob == "" || t.ClusterResultBlob == "" {
		if records == nil {
			var err error
			if records, err = o.loadNormalized(ctx, t); err != nil {
				return o.failOrInterrupt(ctx, t, handle, err)
			}
		}

		result, err := o.collector.Collect(ctx, handle, records)
		if err != nil {
			return o.failOrInterrupt(ctx, t, handle, fmt.Errorf("collect results: %w", err))
		}
		concepts, err := result.ConceptCSV()
		if err != nil {
			return o.fail(ctx, t, handle, fmt.Sprintf("encode concept table: %v", err))
		}
		clusters, err := result.ClusterCSV()
		if err != nil {
			return o.fail(ctx, t, handle, fmt.Sprintf("encode cluster table: %v", err))
		}

		conceptKey, err := o.putBlob(ctx, blob.ConceptsKey(t.ID), concepts)
		if err != nil {
			return o.failOrInterrupt(ctx, t, handle, fmt.Errorf("store concept table: %w", err))
		}
		clusterKey, err := o.putBlob(ctx, blob.ClustersKey(t.ID), clusters)
		if err != nil {
			return o.failOrInterrupt(ctx, t, handle, fmt.Errorf("store cluster table: %w", err))
		}

		t, err = o.checkpoint(ctx, t, func(t *domain.Task) error {
			if t.Status.IsTerminal() {
				return fmt.Errorf("%w: %s", domain.ErrTaskTerminal, t.Status)
			}
			if err := domain.SetBlob(&t.ConceptResultBlob, conceptKey); err != nil {
				return err
			}
			return domain.SetBlob(&t.ClusterResultBlob, clusterKey)
		})
		if err != nil {
			return o.failOrInterrupt(ctx, t, handle, fmt.Errorf("persist result blobs: %w", err))
		}
		log.Info("result tables stored",
			"concept_result_blob", conceptKey,
			"cluster_result_blob", clusterKey,
			"concept_rows", len(result.Concepts),
			"clusters", len(result.Clusters))
	} else {
		log.Info("result tables already stored, skipping collection")
	}

	return o.complete(ctx, t, handle)
}

// complete persists completed and sends the success notification.
func (o *Orchestrator) complete(ctx context.Context, t *domain.Task, handle batch.Handle) (Outcome, error) {
	at := o.now()
	t, err := o.checkpoint(ctx, t, func(t *domain.Task) error {
		return t.Complete(at)
	})
	if err != nil {
		return o.failOrInterrupt(ctx, t, handle, fmt.Errorf("persist completed: %w", err))
	}
	logger.FromContext(ctx).Info("task completed", "completed_at", t.CompletedAt)

	o.notify(ctx, t, o.notifier.NotifyCompleted)
	return OutcomeCompleted, nil
}

// failOrInterrupt fails the task unless the error came from cancellation.
func (o *Orchestrator) failOrInterrupt(ctx context.Context, t *domain.Task, handle batch.Handle, err error) (Outcome, error) {
	if ctx.Err() != nil {
		logger.FromContext(ctx).Info("invocation interrupted", "status", t.Status, "error", err)
		return OutcomeInterrupted, nil
	}
	return o.fail(ctx, t, handle, err.Error())
}

// fail persists failed with message and sends the failure notification.
// A handle that was submitted but never persisted is written alongside so
// the task keeps pointing at its external job.
func (o *Orchestrator) fail(ctx context.Context, t *domain.Task, handle batch.Handle, message string) (Outcome, error) {
	log := logger.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	next, err := o.store.Update(ctx, t.ID, func(t *domain.Task) error {
		if handle != "" && t.JobHandle == "" {
			if err := t.SetJobHandle(handle.String()); err != nil {
				return err
			}
		}
		return t.Fail(message)
	})
	switch {
	case errors.Is(err, domain.ErrTaskTerminal):
		log.Warn("task became terminal during invocation, not overriding", "error", message)
		return OutcomeNoop, nil
	case err != nil:
		log.Error("failed to persist task failure", "error", err, "failure", message)
		return OutcomeFailed, fmt.Errorf("persist failure of task %s: %w", t.ID, err)
	}

	log.Error("task failed", "error", message, "job_handle", next.JobHandle)
	o.notify(ctx, next, o.notifier.NotifyFailed)
	return OutcomeFailed, nil
}

// notify sends one notification. Delivery errors never change the task.
func (o *Orchestrator) notify(ctx context.Context, t *domain.Task, send func(context.Context, string, notify.Summary) error) {
	summary := notify.NewSummary(t, o.cfg.SiteURL)
	if err := send(context.WithoutCancel(ctx), t.OwnerEmail, summary); err != nil {
		logger.FromContext(ctx).Error("notification failed", "error", err, "status", t.Status)
	}
}
