package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/observability"
	"github.com/xraph/orchestra/workflow"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestRun() *workflow.Run {
	return &workflow.Run{
		ID:         id.NewRunID(),
		WorkflowID: "order-flow",
		Mode:       workflow.ModeDependency,
	}
}

// counterValue sums every data point of the named Int64 sum.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_WorkflowStarted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnWorkflowStarted(context.Background(), newTestRun()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "orchestra.workflow.started"); got != 1 {
		t.Errorf("workflow.started = %d, want 1", got)
	}
}

func TestMetricsExtension_StepFailed(t *testing.T) {
	e, reader := newTestExtension()
	step := workflow.StepResult{StepID: "fetch", Target: "http.get", State: workflow.StateFailed}
	step.SetErr(&orchestra.StepError{StepID: "fetch", Kind: orchestra.KindUnavailable, Err: errors.New("down")})

	if err := e.OnStepFailed(context.Background(), newTestRun(), step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "orchestra.step.failed"); got != 1 {
		t.Errorf("step.failed = %d, want 1", got)
	}
}

func TestMetricsExtension_CircuitOpenedOnlyCountsOpen(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnCircuitStateChanged(ctx, "llm", breaker.StateClosed, breaker.StateOpen)
	_ = e.OnCircuitStateChanged(ctx, "llm", breaker.StateOpen, breaker.StateHalfOpen)
	_ = e.OnCircuitStateChanged(ctx, "llm", breaker.StateHalfOpen, breaker.StateClosed)

	if got := counterValue(t, reader, "orchestra.circuit.opened"); got != 1 {
		t.Errorf("circuit.opened = %d, want 1", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(e)

	ctx := context.Background()
	r := newTestRun()
	res := &workflow.Result{WorkflowID: r.WorkflowID, RunID: r.ID, Status: workflow.StatusCompleted, Elapsed: time.Second}
	step := workflow.StepResult{StepID: "s", Target: "echo"}

	reg.EmitWorkflowStarted(ctx, r)
	reg.EmitStepCompleted(ctx, r, step)
	reg.EmitStepFailed(ctx, r, step)
	reg.EmitStepRetrying(ctx, r, "s", 1, time.Millisecond, errors.New("flaky"))
	reg.EmitStepSkipped(ctx, r, step)
	reg.EmitWorkflowCompleted(ctx, r, res)
	reg.EmitWorkflowFailed(ctx, r, res, errors.New("wf fail"))
	reg.EmitCircuitStateChanged(ctx, "echo", breaker.StateClosed, breaker.StateOpen)

	for _, name := range []string{
		"orchestra.workflow.started",
		"orchestra.workflow.completed",
		"orchestra.workflow.failed",
		"orchestra.step.completed",
		"orchestra.step.failed",
		"orchestra.step.retried",
		"orchestra.step.skipped",
		"orchestra.circuit.opened",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s = %d, want 1", name, got)
		}
	}
}
