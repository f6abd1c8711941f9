package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// await polls the batch job until it is terminal, then hands off to finish.
// The loop keeps no state beyond the persisted handle, so the process may be
// killed at any point and the next invocation re-enters through resume.
// records is nil on the resumption path and is loaded lazily for collection.
func (o *Orchestrator) await(ctx context.Context, t *domain.Task, handle batch.Handle, records []domain.Record) (Outcome, error) {
	log := logger.FromContext(ctx).With("job_handle", handle.String())
	deadline := o.now().Add(o.cfg.MaxWait)
	consecutiveErrors := 0

	for polls := 1; ; polls++ {
		status, err := o.batch.Poll(ctx, handle)
		switch {
		case ctx.Err() != nil:
			log.Info("wait for batch job interrupted", "polls", polls)
			return OutcomeInterrupted, nil
		case errors.Is(err, batch.ErrJobNotFound):
			log.Error("batch job disappeared while waiting, leaving task in processing", "error", err)
			return OutcomeStalled, nil
		case err != nil:
			consecutiveErrors++
			log.Warn("poll failed", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors >= o.cfg.MaxPollErrors {
				return o.fail(ctx, t, handle, fmt.Sprintf("polling batch job %s failed %d times in a row: %v", handle, consecutiveErrors, err))
			}
		default:
			consecutiveErrors = 0
			log.Debug("polled batch job", "job_state", status.State, "polls", polls)
			if status.State.IsTerminal() {
				log.Info("batch job finished", "job_state", status.State, "polls", polls)
				return o.finish(ctx, t, handle, status, records)
			}
		}

		if !o.now().Add(o.cfg.PollInterval).Before(deadline) {
			return o.fail(ctx, t, handle, fmt.Sprintf("batch job %s did not finish within %s", handle, o.cfg.MaxWait))
		}
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			log.Info("wait for batch job interrupted", "polls", polls)
			return OutcomeInterrupted, nil
		}
	}
}
