package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/orchestra"
	mw "github.com/xraph/orchestra/middleware"
)

// traced runs next through the tracing middleware and returns the single
// ended span.
func traced(t *testing.T, next mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := mw.TracingWithTracer(tp.Tracer("test"))

	_, err := m(context.Background(), newTestInvocation(), next)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0], err
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_SpanNameAndAttributes(t *testing.T) {
	span, err := traced(t, func(context.Context) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if span.Name() != "orchestra.step.invoke" {
		t.Errorf("span name = %q, want %q", span.Name(), "orchestra.step.invoke")
	}
	if span.SpanKind() != trace.SpanKindInternal {
		t.Errorf("span kind = %v, want internal", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	got := attrs(span)
	for key, want := range map[attribute.Key]string{
		"orchestra.workflow.id": "wf-1",
		"orchestra.step.id":     "summarize",
		"orchestra.target":      "llm",
	} {
		if got[key].AsString() != want {
			t.Errorf("%s = %q, want %q", key, got[key].AsString(), want)
		}
	}
	if got["orchestra.attempt"].AsInt64() != 2 {
		t.Errorf("orchestra.attempt = %d, want 2", got["orchestra.attempt"].AsInt64())
	}
	if _, ok := got["orchestra.run.id"]; !ok {
		t.Error("missing orchestra.run.id")
	}
	if _, ok := got["orchestra.error.kind"]; ok {
		t.Error("successful attempt should not carry orchestra.error.kind")
	}
}

func TestTracing_ErrorRecordsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind orchestra.ErrorKind
	}{
		{"unavailable", orchestra.Unavailable(errors.New("503")), orchestra.KindUnavailable},
		{"invalid input", orchestra.InvalidInput(errors.New("bad prompt")), orchestra.KindInvalidInput},
		{"unclassified", errors.New("boom"), orchestra.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := traced(t, func(context.Context) (any, error) { return nil, tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if span.Status().Code != codes.Error {
				t.Errorf("status = %v, want Error", span.Status().Code)
			}
			if span.Status().Description != tt.err.Error() {
				t.Errorf("status description = %q, want %q", span.Status().Description, tt.err.Error())
			}
			if got := attrs(span)["orchestra.error.kind"].AsString(); got != string(tt.kind) {
				t.Errorf("orchestra.error.kind = %q, want %q", got, tt.kind)
			}

			recorded := false
			for _, ev := range span.Events() {
				recorded = recorded || ev.Name == "exception"
			}
			if !recorded {
				t.Error("expected an exception event on the span")
			}
		})
	}
}

func TestTracing_CapabilitySeesSpan(t *testing.T) {
	var inner trace.SpanContext
	span, _ := traced(t, func(ctx context.Context) (any, error) {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil, nil
	})
	if !inner.IsValid() {
		t.Fatal("capability context carries no span")
	}
	if inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("capability context span is not the invoke span")
	}
}

func TestTracing_GlobalNoopProvider(t *testing.T) {
	called := false
	_, err := mw.Tracing()(context.Background(), newTestInvocation(), func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil || !called {
		t.Fatalf("called = %v, err = %v", called, err)
	}
}
