package events

import (
	"context"
	"log/slog"
)

type sessionIDKey struct{}

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext extracts the session ID from the context, or "" if absent.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logger returns the default logger, tagged with the context's session ID when present.
func Logger(ctx context.Context) *slog.Logger {
	if id := SessionIDFromContext(ctx); id != "" {
		return slog.Default().With("session_id", id)
	}
	return slog.Default()
}
