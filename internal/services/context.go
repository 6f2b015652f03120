package services

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actionKey    contextKey = "action"
)

// WithRequestID annotates context with the caller-chosen request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAction annotates context with the dispatched action name.
func WithAction(ctx context.Context, action string) context.Context {
	if action == "" {
		return ctx
	}
	return context.WithValue(ctx, actionKey, action)
}

// ActionFromContext returns the action name if present.
func ActionFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(actionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
