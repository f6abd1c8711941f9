// Package task drives question-file tasks through their lifecycle.
//
// An Orchestrator run loads one task, decides from its persisted status
// whether to prepare it, re-attach to its batch job, or do nothing, and
// persists a checkpoint after every durable step. Because every decision is
// made from the task store, a run may be killed at any point and simply
// re-invoked. The Sweeper re-invokes every unfinished task after a restart.
package task
