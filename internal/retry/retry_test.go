package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay_CapsAtConfiguredMaximum(t *testing.T) {
	p := NewPolicy(600*time.Millisecond, 6*time.Second, 6)
	p.rand = func() float64 { return 1.0 } // no jitter reduction

	for n := 0; n < 10; n++ {
		d := p.Delay(n)
		if d > p.Cap {
			t.Fatalf("Delay(%d) = %v exceeds cap %v", n, d, p.Cap)
		}
	}
}

func TestDelay_GrowsExponentiallyBeforeCap(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 10*time.Second, 6)
	p.rand = func() float64 { return 1.0 }

	d0 := p.Delay(0)
	d1 := p.Delay(1)
	if d1 < d0 {
		t.Fatalf("expected Delay(1)=%v >= Delay(0)=%v", d1, d0)
	}
}

func TestDelay_FullJitterStaysInBounds(t *testing.T) {
	p := NewPolicy(1*time.Second, 10*time.Second, 6)
	p.rand = func() float64 { return 0.0 }
	dMin := p.Delay(2)
	p.rand = func() float64 { return 1.0 }
	dMax := p.Delay(2)
	if dMin > dMax {
		t.Fatalf("min jitter delay %v should be <= max jitter delay %v", dMin, dMax)
	}
	if dMin < time.Duration(float64(4*time.Second)*0.5) {
		t.Fatalf("dMin=%v lower than expected floor", dMin)
	}
}

func TestDo_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	p := NewPolicy(time.Millisecond, 10*time.Millisecond, 6)
	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := NewPolicy(time.Millisecond, 5*time.Millisecond, 5)
	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestDo_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	p := NewPolicy(time.Millisecond, 5*time.Millisecond, 5)
	err := Do(context.Background(), p, func(error) bool { return false }, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1 (no retry on non-retryable error)", calls)
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	p := NewPolicy(time.Millisecond, 2*time.Millisecond, 3)
	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestDo_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(50*time.Millisecond, 200*time.Millisecond, 10)
	calls := 0
	err := Do(ctx, p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
