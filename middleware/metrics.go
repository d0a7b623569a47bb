package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/orchestra"
)

// meterName is the instrumentation scope name for orchestra metrics.
const meterName = "github.com/xraph/orchestra"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - orchestra.step.duration (Float64Histogram): attempt time in seconds,
//     with attributes: target, status ("ok" or "error")
//   - orchestra.step.invocations (Int64Counter): total attempts,
//     with attributes: target, status, kind (failure kind, "" on success)
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"orchestra.step.duration",
		metric.WithDescription("Duration of capability invocations in seconds"),
		metric.WithUnit("s"),
	)
	invocations, _ := meter.Int64Counter(
		"orchestra.step.invocations",
		metric.WithDescription("Total number of capability invocations"),
		metric.WithUnit("{invocation}"),
	)

	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status, kind := "ok", ""
		if err != nil {
			status, kind = "error", string(orchestra.Classify(err))
		}

		duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("target", inv.Target),
			attribute.String("status", status),
		))
		invocations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("target", inv.Target),
			attribute.String("status", status),
			attribute.String("kind", kind),
		))

		return out, err
	}
}
