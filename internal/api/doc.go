// Package api serves the operator admin API: inspecting tasks, forcing a
// stuck task to failed and reopening a failed task for reprocessing. It
// translates HTTP requests into service.TaskService calls.
package api
