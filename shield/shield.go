// Package shield is the middleware stack of the status API: security
// headers, per-request trace IDs and loggers, HEAD handling and a per-IP
// rate limit.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger, shield.NewRateLimiter(120, time.Minute)) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"
	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey contextKey = "shield_trace_id"
)

// Stack returns the middleware in order: HeadToGet, SecurityHeaders,
// TraceID, then rl when it is non-nil.
func Stack(logger *slog.Logger, rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID(logger),
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// HeadToGet serves HEAD through GET routes; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID returns the request trace ID, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}
