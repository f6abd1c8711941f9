// Package service contains the operator use cases for tasks: inspecting
// them, forcing a task to failed, and reopening a failed task for
// reprocessing.
//
// These are administrative overrides outside the automatic state machine.
// They write through the task store only and never contact the batch
// service, so forcing a task to failed leaves its external job running.
package service
