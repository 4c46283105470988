package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
)

// TraceID tags every request with a random ID, echoed in X-Trace-ID, and
// stores a logger carrying it in the context. A nil base uses
// slog.Default().
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			traceID := hex.EncodeToString(id)
			w.Header().Set("X-Trace-ID", traceID)

			logger := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			logger.Debug("httpapi: request")

			ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
