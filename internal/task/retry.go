package task

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// backoff returns a fresh exponential policy; go-retry backoffs are stateful
// and must not be shared between operations.
func (o *Orchestrator) backoff() retry.Backoff {
	b := retry.NewExponential(o.cfg.RetryBaseDelay)
	return retry.WithMaxRetries(o.cfg.RetryAttempts-1, b)
}

// retry runs fn under the transient-error policy. fn marks retryable errors
// with retryIf; anything else stops immediately.
func (o *Orchestrator) retry(ctx context.Context, fn retry.RetryFunc) error {
	attempt := 0
	return retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && attempt > 1 {
			logger.FromContext(ctx).Warn("retry attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
}

func retryIf(err error, retryable bool) error {
	if retryable {
		return retry.RetryableError(err)
	}
	return err
}

// getBlob reads key, retrying everything except a missing object.
func (o *Orchestrator) getBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := o.retry(ctx, func(ctx context.Context) error {
		b, err := o.blobs.Get(ctx, key)
		if err != nil {
			return retryIf(err, !errors.Is(err, blob.ErrNotFound) && !errors.Is(err, blob.ErrInvalidKey))
		}
		data = b
		return nil
	})
	return data, err
}

// putBlob writes data under key and returns the stored key.
func (o *Orchestrator) putBlob(ctx context.Context, key string, data []byte) (string, error) {
	var stored string
	err := o.retry(ctx, func(ctx context.Context) error {
		k, err := o.blobs.Put(ctx, key, data)
		if err != nil {
			return retryIf(err, !errors.Is(err, blob.ErrInvalidKey))
		}
		stored = k
		return nil
	})
	return stored, err
}
