package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithConnection derives a context whose logger is tagged with the
// connection and its user. Every inbound event of a connection runs under it.
func WithConnection(ctx context.Context, connectionID, userID string) context.Context {
	l := Ctx(ctx)
	child := l.With().
		Str(FieldConnectionID, connectionID).
		Str(FieldUserID, userID).
		Logger()
	return WithLogger(ctx, child)
}
