package core

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// NewID returns a random UUID string. Stores use it as their instance id
// and the daemon uses it for request ids.
func NewID() string {
	return uuid.New().String()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID retrieves the request ID from ctx, or "" if none is set.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithNewRequestID adds a freshly generated request ID to the context.
func WithNewRequestID(ctx context.Context) context.Context {
	return WithRequestID(ctx, NewID())
}
