package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/workflow"
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/orchestra/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted     = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted   = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed      = (*MetricsExtension)(nil)
	_ ext.StepCompleted       = (*MetricsExtension)(nil)
	_ ext.StepFailed          = (*MetricsExtension)(nil)
	_ ext.StepRetrying        = (*MetricsExtension)(nil)
	_ ext.StepSkipped         = (*MetricsExtension)(nil)
	_ ext.CircuitStateChanged = (*MetricsExtension)(nil)
)

// MetricsExtension records engine-wide lifecycle counters through an OTel
// meter. Register it as an orchestra extension to track run outcomes,
// step completions, failures, retries, skips and circuit openings.
type MetricsExtension struct {
	WorkflowStarted   metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowFailed    metric.Int64Counter
	WorkflowDuration  metric.Float64Histogram
	StepCompleted     metric.Int64Counter
	StepFailed        metric.Int64Counter
	StepRetried       metric.Int64Counter
	StepSkipped       metric.Int64Counter
	CircuitOpened     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"orchestra.workflow.duration",
		metric.WithDescription("Duration of workflow runs in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		WorkflowStarted:   counter("orchestra.workflow.started", "Workflow runs started"),
		WorkflowCompleted: counter("orchestra.workflow.completed", "Workflow runs finished completed or partially completed"),
		WorkflowFailed:    counter("orchestra.workflow.failed", "Workflow runs finished failed"),
		WorkflowDuration:  duration,
		StepCompleted:     counter("orchestra.step.completed", "Steps completed"),
		StepFailed:        counter("orchestra.step.failed", "Steps failed"),
		StepRetried:       counter("orchestra.step.retried", "Step retries scheduled"),
		StepSkipped:       counter("orchestra.step.skipped", "Steps skipped"),
		CircuitOpened:     counter("orchestra.circuit.opened", "Circuit breakers opened"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	m.WorkflowStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(r.Mode))))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, _ *workflow.Run, res *workflow.Result) error {
	status := attribute.String("status", string(res.Status))
	m.WorkflowCompleted.Add(ctx, 1, metric.WithAttributes(status))
	m.WorkflowDuration.Record(ctx, res.Elapsed.Seconds(), metric.WithAttributes(status))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, _ *workflow.Run, res *workflow.Result, _ error) error {
	status := attribute.String("status", string(workflow.StatusFailed))
	m.WorkflowFailed.Add(ctx, 1)
	if res != nil {
		m.WorkflowDuration.Record(ctx, res.Elapsed.Seconds(), metric.WithAttributes(status))
	}
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, _ *workflow.Run, step workflow.StepResult) error {
	m.StepCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("target", step.Target)))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ *workflow.Run, step workflow.StepResult) error {
	m.StepFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", step.Target),
		attribute.String("kind", string(orchestra.Classify(step.Err))),
	))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, _ *workflow.Run, _ string, _ int, _ time.Duration, err error) error {
	m.StepRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(orchestra.Classify(err)))))
	return nil
}

// OnStepSkipped implements ext.StepSkipped.
func (m *MetricsExtension) OnStepSkipped(ctx context.Context, _ *workflow.Run, _ workflow.StepResult) error {
	m.StepSkipped.Add(ctx, 1)
	return nil
}

// ── Circuit hooks ───────────────────────────────────

// OnCircuitStateChanged implements ext.CircuitStateChanged. Only moves to
// open are counted.
func (m *MetricsExtension) OnCircuitStateChanged(ctx context.Context, target string, _, to breaker.State) error {
	if to == breaker.StateOpen {
		m.CircuitOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	}
	return nil
}
