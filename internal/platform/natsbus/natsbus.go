// Package natsbus publishes task notifications as JSON events on NATS.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/notify"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

const flushTimeout = 5 * time.Second

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier publishes notify.Event values on <prefix>.completed and
// <prefix>.failed.
type Notifier struct {
	pub    Publisher
	nc     *nats.Conn
	prefix string
}

var _ notify.Notifier = (*Notifier)(nil)

// Connect dials NATS and returns a Notifier that owns the connection.
func Connect(cfg config.NotifyConfig) (*Notifier, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("kcjob"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	n := New(nc, cfg.SubjectPrefix)
	n.nc = nc
	return n, nil
}

// New creates a Notifier on an existing publisher.
func New(pub Publisher, prefix string) *Notifier {
	return &Notifier{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject used for an event type suffix.
func (n *Notifier) Subject(suffix string) string {
	return n.prefix + "." + suffix
}

// NotifyCompleted publishes a task.completed event.
func (n *Notifier) NotifyCompleted(ctx context.Context, recipient string, summary notify.Summary) error {
	return n.publish(ctx, n.Subject("completed"), notify.NewEvent(notify.EventTaskCompleted, recipient, summary))
}

// NotifyFailed publishes a task.failed event.
func (n *Notifier) NotifyFailed(ctx context.Context, recipient string, summary notify.Summary) error {
	return n.publish(ctx, n.Subject("failed"), notify.NewEvent(notify.EventTaskFailed, recipient, summary))
}

func (n *Notifier) publish(ctx context.Context, subject string, ev notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := n.pub.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if n.nc != nil {
		// Publish only buffers.
		if err := n.nc.FlushTimeout(flushTimeout); err != nil {
			return fmt.Errorf("flush %s: %w", subject, err)
		}
	}
	logger.FromContext(ctx).Debug("notification published",
		"subject", subject,
		"event_id", ev.ID.String(),
		"task_id", ev.Summary.TaskID)
	return nil
}

// Close drains the owned connection, if any.
func (n *Notifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
