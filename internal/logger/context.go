package logger

import (
	"context"
	"log/slog"
)

// contextKey is private to avoid collisions with other packages' keys.
type contextKey struct{}

// WithContext returns a new context carrying logger. The control API
// middleware uses it to inject a request-scoped logger.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, falling back to slog.Default().
// It never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
