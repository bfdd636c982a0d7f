package logging

import (
	"context"

	"go.uber.org/zap"
)

type sessionCtxKey struct{}
type turnCtxKey struct{}
type requestCtxKey struct{}

// WithSessionID returns a context carrying a session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// WithTurnID returns a context carrying a turn id.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnCtxKey{}, id)
}

// TurnIDFromContext returns the turn id, or "".
func TurnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(turnCtxKey{}).(string)
	return id
}

// WithRequestID returns a context carrying an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation ids from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := TurnIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("turn.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// For returns logger annotated with the correlation ids in ctx.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
