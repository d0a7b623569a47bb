package backoff_test

import (
	"math"
	"testing"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_Multiplier(t *testing.T) {
	e := backoff.NewExponential(100*time.Millisecond, 3, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},  // 100ms * 3^0
		{2, 300 * time.Millisecond},  // 100ms * 3^1
		{3, 900 * time.Millisecond},  // 100ms * 3^2
		{4, 2700 * time.Millisecond}, // 100ms * 3^3
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 10*time.Second)

	// Attempt 5 = 16s > 10s max.
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_UncappedSaturates(t *testing.T) {
	e := backoff.NewExponential(200*time.Millisecond, 2, 0)

	// 200ms * 2^36 is past the largest Duration.
	for _, attempt := range []int{37, 38, 100, 5000} {
		if got := e.Delay(attempt); got != time.Duration(math.MaxInt64) {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, time.Duration(math.MaxInt64))
		}
	}
	if got, want := e.Delay(36), 200*time.Millisecond*(1<<35); got != want {
		t.Errorf("Delay(36) = %v, want %v", got, want)
	}

	jittered := e.WithJitter(0.5)
	jittered.Rand = func() float64 { return 1 }
	if got := jittered.Delay(100); got != time.Duration(math.MaxInt64) {
		t.Errorf("jittered Delay(100) = %v, want %v", got, time.Duration(math.MaxInt64))
	}
}

func TestExponential_ZeroInitialNeverOverflows(t *testing.T) {
	e := backoff.NewExponential(0, 10, 0)
	if got := e.Delay(1000); got != 0 {
		t.Errorf("Delay(1000) = %v, want 0", got)
	}
}

func TestExponential_MultiplierBelowOneIsFlat(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0, 0)
	for attempt := 1; attempt <= 4; attempt++ {
		if got := e.Delay(attempt); got != time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, time.Second)
		}
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want time.Duration
	}{
		{"lowest", 0, 800 * time.Millisecond},   // 1s * (1 - 0.2)
		{"middle", 0.5, time.Second},            // 1s * 1
		{"highest", 0.75, 1100 * time.Millisecond}, // 1s * (1 + 0.2*0.5)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := backoff.NewExponential(500*time.Millisecond, 2, time.Minute).WithJitter(0.2)
			e.Rand = func() float64 { return tt.r }
			if got := e.Delay(2); got != tt.want {
				t.Errorf("Delay(2) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExponential_JitterAppliedBeforeCap(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 4*time.Second).WithJitter(0.5)
	e.Rand = func() float64 { return 0.999 }

	// 4s * ~1.5 exceeds the cap.
	if got := e.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(3) = %v, want %v", got, 4*time.Second)
	}
}

func TestExponential_RandomJitterStaysInRange(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 0).WithJitter(0.1)
	for i := 0; i < 200; i++ {
		got := e.Delay(3)
		if got < 3600*time.Millisecond || got > 4400*time.Millisecond {
			t.Fatalf("Delay(3) = %v, want within [3.6s, 4.4s]", got)
		}
	}
}

func TestFromPolicy(t *testing.T) {
	flat := backoff.FromPolicy(orchestra.RetryPolicy{BaseDelay: 2 * time.Second, Multiplier: 1, MaxDelay: time.Second})
	if _, ok := flat.(*backoff.Constant); !ok {
		t.Fatalf("FromPolicy(flat) = %T, want *backoff.Constant", flat)
	}
	if got := flat.Delay(3); got != time.Second {
		t.Errorf("flat Delay(3) = %v, want %v", got, time.Second)
	}

	grow := backoff.FromPolicy(orchestra.RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute})
	if got := grow.Delay(3); got != 4*time.Second {
		t.Errorf("grow Delay(3) = %v, want %v", got, 4*time.Second)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if _, ok := s.(*backoff.Exponential); !ok {
		t.Fatalf("DefaultStrategy() = %T, want *backoff.Exponential", s)
	}
	if d := s.Delay(1); d <= 0 {
		t.Errorf("Delay(1) = %v, want > 0", d)
	}
}
