package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockcore/internal/core"
	"stockcore/pkg/domain"
)

// Tracer adapts an OTel tracer provider to core.Tracer.
type Tracer struct {
	tracer trace.Tracer
}

var _ core.Tracer = Tracer{}

// NewTracer returns a tracer on tp.
func NewTracer(tp trace.TracerProvider) Tracer {
	return Tracer{tracer: tp.Tracer("stockcore/internal/core")}
}

// Start opens a span named after the operation.
func (t Tracer) Start(ctx context.Context, op string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "stockcore."+op, trace.WithAttributes(attribute.String("stockcore.operation", op)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

// End records err on the span and closes it.
func (s otelSpan) End(err error) {
	defer s.span.End()
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetAttributes(attribute.Bool("stockcore.retryable", domain.IsRetryable(err)))
	s.span.SetStatus(codes.Error, err.Error())
}
