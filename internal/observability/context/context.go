// Package context carries correlation identifiers across the request path.
package context

import "context"

type contextKey string

const requestIDKey contextKey = "obs_request_id"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}
