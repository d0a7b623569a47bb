package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/middleware"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInvocation() *middleware.Invocation {
	return &middleware.Invocation{
		RunID:      id.NewRunID(),
		WorkflowID: "wf-1",
		StepID:     "summarize",
		Target:     "llm",
		Attempt:    2,
		Input:      "text",
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.Invocation, next middleware.Handler) (any, error) {
		order = append(order, "mw1-before")
		out, err := next(ctx)
		order = append(order, "mw1-after")
		return out, err
	}

	mw2 := func(ctx context.Context, _ *middleware.Invocation, next middleware.Handler) (any, error) {
		order = append(order, "mw2-before")
		out, err := next(ctx)
		order = append(order, "mw2-after")
		return out, err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) (any, error) {
		order = append(order, "handler")
		return "out", nil
	}

	out, err := chain(context.Background(), newTestInvocation(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "out" {
		t.Errorf("out = %v, want %q", out, "out")
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	_, err := chain(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *middleware.Invocation, next middleware.Handler) (any, error) {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(discardLogger())

	out, err := mw(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if out != nil {
		t.Errorf("out = %v, want nil", out)
	}
	if got := err.Error(); got != "panic in target llm: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, want *PanicError", err)
	}
	if pe.Value != "test panic" || len(pe.Stack) == 0 {
		t.Errorf("PanicError = {Value: %v, Stack: %d bytes}", pe.Value, len(pe.Stack))
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(discardLogger())

	out, err := mw(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Errorf("out = %v, want 42", out)
	}
}

func TestLogging_Success(t *testing.T) {
	mw := middleware.Logging(discardLogger())

	called := false
	_, err := mw(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	mw := middleware.Logging(discardLogger())
	want := errors.New("fail")

	_, err := mw(context.Background(), newTestInvocation(), func(_ context.Context) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_NoTimeoutPassesThrough(t *testing.T) {
	mw := middleware.Timeout(discardLogger())
	inv := newTestInvocation()

	_, err := mw(context.Background(), inv, func(ctx context.Context) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	mw := middleware.Timeout(discardLogger())
	inv := newTestInvocation()
	inv.Timeout = time.Second

	out, err := mw(context.Background(), inv, func(ctx context.Context) (any, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected deadline")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Errorf("out = %v, want done", out)
	}
}

func TestTimeout_AbandonsUncooperativeCapability(t *testing.T) {
	mw := middleware.Timeout(discardLogger())
	inv := newTestInvocation()
	inv.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := mw(context.Background(), inv, func(_ context.Context) (any, error) {
		<-release // ignores ctx
		return "late", nil
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Timeout waited %v for a capability ignoring ctx", elapsed)
	}
	if got := orchestra.Classify(err); got != orchestra.KindTimeout {
		t.Errorf("kind = %q, want %q", got, orchestra.KindTimeout)
	}
	if !orchestra.IsRetryable(err) {
		t.Error("timeout must be retryable")
	}
}

func TestTimeout_ParentCancellation(t *testing.T) {
	mw := middleware.Timeout(discardLogger())
	inv := newTestInvocation()
	inv.Timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := mw(ctx, inv, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestContext_ExposesInvocation(t *testing.T) {
	mw := middleware.Context()
	inv := newTestInvocation()

	_, err := mw(context.Background(), inv, func(ctx context.Context) (any, error) {
		got, ok := middleware.InvocationFrom(ctx)
		if !ok {
			t.Fatal("expected invocation in context")
		}
		if got.StepID != "summarize" {
			t.Errorf("StepID = %q, want %q", got.StepID, "summarize")
		}
		if got.Attempt != 2 {
			t.Errorf("Attempt = %d, want 2", got.Attempt)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := middleware.InvocationFrom(context.Background()); ok {
		t.Error("expected no invocation in bare context")
	}
}
