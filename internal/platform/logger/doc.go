// Package logger provides structured logging for the job runner and the
// admin server.
//
// It builds log/slog JSON loggers from configuration and carries the
// per-invocation logger through context.Context so that every component
// logs with the same task-scoped attributes.
package logger
