package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/orchestra"
)

// tracerName is the instrumentation scope name for orchestra tracing.
const tracerName = "github.com/xraph/orchestra"

// Tracing returns middleware that wraps every attempt in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: orchestra.workflow.id, orchestra.run.id,
// orchestra.step.id, orchestra.target and orchestra.attempt. On error the
// span records the failure kind and its status is set to codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "orchestra.step.invoke",
			trace.WithAttributes(
				attribute.String("orchestra.workflow.id", inv.WorkflowID),
				attribute.String("orchestra.run.id", inv.RunID.String()),
				attribute.String("orchestra.step.id", inv.StepID),
				attribute.String("orchestra.target", inv.Target),
				attribute.Int("orchestra.attempt", inv.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("orchestra.error.kind", string(orchestra.Classify(err))))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return out, err
	}
}
