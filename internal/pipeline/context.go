package pipeline

import "context"

type contextKey string

const runIDKey = contextKey("run_id")

// WithRunID returns a context carrying the run ID used for logs and history.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run ID from the context, if any.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}
