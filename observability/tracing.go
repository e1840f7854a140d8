package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/shaharia-lab/copilot"

// StartSpan starts a new span with the given name and options. When the context
// carries no span the globally registered tracer provider is used.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tp := trace.SpanFromContext(ctx).TracerProvider()
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName).Start(ctx, name, opts...)
}
