package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type requesterCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// maxIDLen caps correlation ids copied into every log line.
const maxIDLen = 128

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if id := RequesterIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("requester.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

func clip(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}

// WithRunID tags ctx with the run being executed.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, clip(runID))
}

// RunIDFromContext returns the run id, if any.
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// WithRequesterID tags ctx with the caller that requested the run.
// Empty ids leave ctx unchanged.
func WithRequesterID(ctx context.Context, requesterID string) context.Context {
	if requesterID == "" {
		return ctx
	}
	return context.WithValue(ctx, requesterCtxKey{}, clip(requesterID))
}

// RequesterIDFromContext returns the requester id, if any.
func RequesterIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requesterCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with the transport request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, clip(requestID))
}

// RequestIDFromContext returns the request id, if any.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
