package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// RequestIDKey holds a request ID set by WithRequestID.
const RequestIDKey contextKey = "request_id"

// GetRequestIDFromContext returns the ID assigned by chi's RequestID
// middleware, falling back to one stored with WithRequestID.
func GetRequestIDFromContext(ctx context.Context) string {
	if id := chimiddleware.GetReqID(ctx); id != "" {
		return id
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
