package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Fanout dispatches each notification to every registered notifier. A
// failing notifier does not stop delivery to the others; their errors are
// joined and returned.
type Fanout struct {
	notifiers []Notifier
	mu        sync.RWMutex
	logger    *slog.Logger
}

var _ Notifier = (*Fanout)(nil)

// NewFanout creates a Fanout over the given notifiers.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	return &Fanout{
		notifiers: notifiers,
		logger:    logger.With("component", "notify_fanout"),
	}
}

// Register adds a notifier.
func (f *Fanout) Register(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers = append(f.notifiers, n)
	f.logger.Debug("registered notifier", "notifier_count", len(f.notifiers))
}

// NotifyCompleted implements Notifier.
func (f *Fanout) NotifyCompleted(ctx context.Context, recipient string, summary Summary) error {
	return f.dispatch(EventTaskCompleted, summary, func(n Notifier) error {
		return n.NotifyCompleted(ctx, recipient, summary)
	})
}

// NotifyFailed implements Notifier.
func (f *Fanout) NotifyFailed(ctx context.Context, recipient string, summary Summary) error {
	return f.dispatch(EventTaskFailed, summary, func(n Notifier) error {
		return n.NotifyFailed(ctx, recipient, summary)
	})
}

func (f *Fanout) dispatch(eventType string, s Summary, send func(Notifier) error) error {
	f.mu.RLock()
	notifiers := make([]Notifier, len(f.notifiers))
	copy(notifiers, f.notifiers)
	f.mu.RUnlock()

	if len(notifiers) == 0 {
		f.logger.Warn("no notifiers registered",
			"event_type", eventType,
			"task_id", s.TaskID)
		return nil
	}

	var errs []error
	for i, n := range notifiers {
		if err := send(n); err != nil {
			f.logger.Error("notifier failed",
				"error", err,
				"notifier_index", i,
				"event_type", eventType,
				"task_id", s.TaskID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
