package shared

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by the API middleware.
type ContextKey string

const (
	// OperatorContextKey holds the authenticated operator's token subject.
	OperatorContextKey ContextKey = "operator"

	// TraceIDKey holds the per-request trace ID.
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID adds a fresh trace ID to the context, or reuses id when it is
// not empty (for example an upstream X-Request-ID).
func SetTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID returns the trace ID, or "" when none is set.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}

// SetOperator records the authenticated operator in the context.
func SetOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, OperatorContextKey, subject)
}

// GetOperator returns the authenticated operator, if any.
func GetOperator(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(OperatorContextKey).(string)
	return subject, ok && subject != ""
}
