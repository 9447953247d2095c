package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all Confab spans.
const tracerName = "github.com/MrWong99/confab"

// Tracer returns Confab's tracer from the globally registered provider.
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSpan opens a span on Confab's tracer, named after the pipeline stage
// it covers (e.g. "summarize-cycle"). The caller owns span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active span's trace ID, or "" when ctx carries no
// span. The trace ID is what clients see in the X-Correlation-ID response
// header, so a support report quoting it can be joined directly against
// exported spans and log lines.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the active span's trace_id
// and span_id. Outside a span it is just slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
