// Package retry implements exponential backoff with full jitter, the
// bounded-retry shape used around the LLM client and other transient I/O.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential-backoff-with-full-jitter schedule:
// delay(n) = min(Cap, Base*2^n) * rand(0.5, 1.0).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int

	// rand is overridable in tests for deterministic delay assertions.
	rand func() float64
}

func NewPolicy(base, cap time.Duration, maxAttempts int) Policy {
	return Policy{Base: base, Cap: cap, MaxAttempts: maxAttempts}
}

// Delay returns the backoff delay before attempt n (0-indexed: the sleep
// that precedes the (n+1)th call).
func (p Policy) Delay(n int) time.Duration {
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	d := float64(p.Base) * pow2(n)
	if capF := float64(p.Cap); d > capF {
		d = capF
	}
	jitter := 0.5 + 0.5*r()
	return time.Duration(d * jitter)
}

func pow2(n int) float64 {
	out := 1.0
	for range n {
		out *= 2
	}
	return out
}

// RetryableFunc reports whether err is worth retrying; a nil err always
// stops the loop successfully.
type RetryableFunc func(err error) bool

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay(attempt) between
// tries while isRetryable(err) holds. It returns the last error if every
// attempt fails, or nil on the first success. The context is checked
// between sleeps so a caller deadline ends the loop promptly.
func Do(ctx context.Context, p Policy, isRetryable RetryableFunc, fn func(ctx context.Context) error) error {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var lastErr error
	for attempt := 0; attempt < max; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == max-1 {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
