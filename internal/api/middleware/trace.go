package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/kcjob/internal/api/shared"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// NewTraceMiddleware tags each request with a trace ID and attaches a
// request-scoped logger to its context. An incoming X-Request-ID is reused.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), r.Header.Get("X-Request-ID"))
			traceID := shared.GetTraceID(ctx)
			log := base.With("trace_id", traceID)
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)

			w.Header().Set("X-Request-ID", traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
