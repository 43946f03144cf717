// Package trace carries the request trace id across HTTP, the outbox and MQ
// hops so every log line of one mutation shares it.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

const (
	// TraceIDKey 是 MQ header 和 outbox payload 中的字段名
	TraceIDKey = "trace_id"
	// Header 是 HTTP 请求/响应头
	Header = "X-Trace-ID"
)

// GenerateTraceID returns 32 lowercase hex chars, the same shape as an
// OpenTelemetry trace id.
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure keeps an existing trace id. Otherwise it adopts the active span's
// trace id, so logs line up with exported spans, and generates one only when
// tracing is off.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return WithContext(ctx, sc.TraceID().String())
	}
	return WithContext(ctx, GenerateTraceID())
}
