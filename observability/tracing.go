package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hooklinehq/hookline"

// Tracer wraps an OpenTelemetry tracer with delivery-shaped span helpers.
// The zero value is usable and traces through the global provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer from the given provider, falling back to the
// global provider when nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer(tracerName)
	}
	return t.tracer
}

// StartTrigger opens a span around event fan-out.
func (t *Tracer) StartTrigger(ctx context.Context, eventType, tenantID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, "hookline.trigger",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("tenant.id", tenantID),
		))
}

// StartAttempt opens a span around a single delivery attempt.
func (t *Tracer) StartAttempt(ctx context.Context, deliveryID, endpointID string, attempt int) (context.Context, trace.Span) {
	return t.get().Start(ctx, "hookline.delivery.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("delivery.id", deliveryID),
			attribute.String("endpoint.id", endpointID),
			attribute.Int("delivery.attempt", attempt),
		))
}

// EndAttempt records the outcome on the span and closes it.
func EndAttempt(span trace.Span, success bool, statusCode int, errMsg string) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
