package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		want  slog.Level
		valid bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := logger.ParseLevel(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("GITLAB_CI", "")

	var buf bytes.Buffer
	l := logger.New(&buf, "warn")

	l.Info("hidden")
	l.Warn("shown", "task_id", "42")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"task_id":"42"`)
}

func TestNewWarnsOnInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	_ = logger.New(&buf, "loud")

	assert.Contains(t, buf.String(), "invalid log level configured")
	assert.Contains(t, buf.String(), `"configured_level":"loud"`)
}

func TestContextLogger(t *testing.T) {
	ctx, buf := logger.NewTestContext(t)

	ctx, _ = logger.With(ctx, "task_id", "T1")
	logger.FromContext(ctx).Info("scoped")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scoped", entries[0]["msg"])
	assert.Equal(t, "T1", entries[0]["task_id"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), logger.FromContext(context.Background()))
	assert.Equal(t, context.Background(), logger.WithLogger(context.Background(), nil))
}

func TestCIHandlerAddsMetadata(t *testing.T) {
	t.Setenv("GITHUB_RUN_ID", "9001")
	t.Setenv("GITHUB_SHA", "abc123")

	buf := &logger.TestLogBuffer{}
	l := slog.New(logger.NewCIHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true}))
	l.With("component", "test").Debug("ci message")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "9001", e["ci_run_id"])
	assert.Equal(t, "abc123", e["ci_commit"])
	assert.Equal(t, "test", e["component"])
	assert.Contains(t, e, "timestamp_nano")
	assert.Contains(t, e, "source_line")
}
