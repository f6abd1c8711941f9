// Package notify delivers task completion and failure notifications.
//
// The orchestrator depends only on the Notifier interface. Delivery is best
// effort: callers log a failed notification and carry on, so a notifier
// error never changes the outcome of a task.
//
// The primary components are:
//   - Summary: the facts about a finished task that a notification carries
//   - Event: a Summary wrapped with a unique id, used on message buses
//   - LogNotifier: writes notifications to the structured log
//   - Fanout: dispatches each notification to several notifiers
package notify
