package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/kcjob/internal/notify"
)

// Notification is one call recorded by RecordingNotifier.
type Notification struct {
	Event     string
	Recipient string
	Summary   notify.Summary
}

// RecordingNotifier records every notification and returns Err from each.
type RecordingNotifier struct {
	Err error

	mu   sync.Mutex
	sent []Notification
}

var _ notify.Notifier = (*RecordingNotifier)(nil)

// NotifyCompleted implements notify.Notifier.
func (n *RecordingNotifier) NotifyCompleted(_ context.Context, recipient string, summary notify.Summary) error {
	return n.record(notify.EventTaskCompleted, recipient, summary)
}

// NotifyFailed implements notify.Notifier.
func (n *RecordingNotifier) NotifyFailed(_ context.Context, recipient string, summary notify.Summary) error {
	return n.record(notify.EventTaskFailed, recipient, summary)
}

func (n *RecordingNotifier) record(event, recipient string, summary notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Event: event, Recipient: recipient, Summary: summary})
	return n.Err
}

// Sent returns a copy of the recorded notifications.
func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// Count returns how many notifications of event were sent.
func (n *RecordingNotifier) Count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Event == event {
			c++
		}
	}
	return c
}
