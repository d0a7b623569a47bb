package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire should always succeed.
	release, err := m.Acquire(context.Background(), "any-target")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
}

func TestNewManager_WithConfig(t *testing.T) {
	m := NewManager(Config{
		Target:         "llm",
		MaxConcurrency: 2,
	})
	if m.ActiveCount("llm") != 0 {
		t.Fatal("expected 0 active invocations initially")
	}
	cfg, ok := m.Config("llm")
	if !ok || cfg.MaxConcurrency != 2 {
		t.Fatalf("Config = %+v, %v", cfg, ok)
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Target:         "llm",
		MaxConcurrency: 2,
	})

	r1, ok := m.TryAcquire("llm")
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}
	if _, ok := m.TryAcquire("llm"); !ok {
		t.Fatal("second TryAcquire should succeed")
	}
	// Third should be blocked.
	if _, ok := m.TryAcquire("llm"); ok {
		t.Fatal("third TryAcquire should fail (max concurrency 2)")
	}

	// Release one slot.
	r1()
	if _, ok := m.TryAcquire("llm"); !ok {
		t.Fatal("TryAcquire should succeed after release")
	}
}

func TestManager_AcquireBlocksUntilRelease(t *testing.T) {
	m := NewManager(Config{Target: "llm", MaxConcurrency: 1})

	release, err := m.Acquire(context.Background(), "llm")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(context.Background(), "llm")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while the slot is held")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after release")
	}
}

func TestManager_AcquireHonoursContext(t *testing.T) {
	m := NewManager(Config{Target: "llm", MaxConcurrency: 1})
	release, _ := m.Acquire(context.Background(), "llm")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx, "llm")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("err = %v, want ErrThrottled", err)
	}
	if got := m.ActiveCount("llm"); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
}

func TestManager_ActiveCount(t *testing.T) {
	m := NewManager(Config{
		Target:         "q",
		MaxConcurrency: 5,
	})

	var releases []func()
	for i := range 3 {
		r, err := m.Acquire(context.Background(), "q")
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		releases = append(releases, r)
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	releases[0]()
	releases[1]()
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	m := NewManager(Config{Target: "q", MaxConcurrency: 1})

	r, _ := m.Acquire(context.Background(), "q")
	r()
	r()
	if m.ActiveCount("q") != 0 {
		t.Fatal("active count should not go below 0")
	}
	if _, ok := m.TryAcquire("q"); !ok {
		t.Fatal("slot should be free after release")
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		Target:    "limited",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	r, ok := m.TryAcquire("limited")
	if !ok {
		t.Fatal("first TryAcquire should succeed (within burst)")
	}
	r()

	// Immediately after, token bucket is empty.
	if _, ok := m.TryAcquire("limited"); ok {
		t.Fatal("second TryAcquire should fail (rate limited)")
	}
}

func TestManager_RateLimit_AcquireWaits(t *testing.T) {
	m := NewManager(Config{
		Target:    "limited",
		RateLimit: 20, // one token every 50ms
		RateBurst: 1,
	})

	start := time.Now()
	for range 3 {
		r, err := m.Acquire(context.Background(), "limited")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		r()
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("three acquires took %v, want at least ~100ms", elapsed)
	}
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		Target:    "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		r, ok := m.TryAcquire("bursty")
		if !ok {
			t.Fatalf("TryAcquire %d should succeed (within burst)", i)
		}
		r()
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestManager_SetConfig(t *testing.T) {
	m := NewManager(Config{
		Target:         "dyn",
		MaxConcurrency: 1,
	})

	old, _ := m.TryAcquire("dyn")
	if _, ok := m.TryAcquire("dyn"); ok {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically.
	m.SetConfig(Config{
		Target:         "dyn",
		MaxConcurrency: 3,
	})

	r, ok := m.TryAcquire("dyn")
	if !ok {
		t.Fatal("should succeed after raising concurrency")
	}
	r()
	old()
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{
		Target:         "concurrent",
		MaxConcurrency: 5,
	})

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "concurrent")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			release()
		}()
	}

	wg.Wait()

	if p := peak.Load(); p > 5 {
		t.Fatalf("peak in-flight = %d, want <= 5", p)
	}
	if m.ActiveCount("concurrent") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount("concurrent"))
	}
}

func TestManager_UnconfiguredTarget_AlwaysSucceeds(t *testing.T) {
	m := NewManager(Config{
		Target:         "configured",
		MaxConcurrency: 1,
	})

	// "other" has no config, so no limits.
	for range 10 {
		if _, ok := m.TryAcquire("other"); !ok {
			t.Fatal("unconfigured target should always allow TryAcquire")
		}
	}
}
