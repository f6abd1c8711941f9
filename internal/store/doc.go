// Package store defines the persistence contract for tasks.
//
// The TaskStore interface is the single source of truth the orchestrator
// consults on every invocation. Implementations live under
// internal/platform (SQL backends and an in-memory store) and must make
// each Update durable before returning.
package store
