package notify

import (
	"context"
	"log/slog"

	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// LogNotifier writes notifications to the structured log. It is the default
// backend when no message bus is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger means the logger
// carried by each call's context.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

// NotifyCompleted logs a completion notification.
func (n *LogNotifier) NotifyCompleted(ctx context.Context, recipient string, summary Summary) error {
	n.log(ctx, EventTaskCompleted, recipient, summary)
	return nil
}

// NotifyFailed logs a failure notification.
func (n *LogNotifier) NotifyFailed(ctx context.Context, recipient string, summary Summary) error {
	n.log(ctx, EventTaskFailed, recipient, summary)
	return nil
}

func (n *LogNotifier) log(ctx context.Context, eventType, recipient string, s Summary) {
	l := n.logger
	if l == nil {
		l = logger.FromContext(ctx)
	}
	subject, _ := Message(recipient, s)
	l.InfoContext(ctx, "task notification",
		"event_type", eventType,
		"recipient", recipient,
		"subject", subject,
		"task_id", s.TaskID,
		"filename", s.Filename,
		"status", s.Status,
		"error_message", s.Error,
		"results_url", s.ResultsURL)
}
