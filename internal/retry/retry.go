// Package retry provides a bounded retry executor with exponential backoff
// and jitter. Callers must ensure the wrapped operation is idempotent or
// safely repeatable; the executor has no side effects of its own.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy controls retry behavior. MaxRetries is the number of retries after
// the first attempt, so an operation runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool // perturb each delay by ±10%
}

// ToolPolicy is the standard profile for collaborator (tool) calls.
func ToolPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: 150 * time.Millisecond, MaxDelay: 400 * time.Millisecond, Multiplier: 2, Jitter: true}
}

// FlowPolicy is the standard profile for flow-level operations.
func FlowPolicy() Policy {
	return Policy{MaxRetries: 1, BaseDelay: 200 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2, Jitter: true}
}

// Result reports how an execution went, regardless of outcome.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
}

// Delay returns the backoff delay before retry n (0-based):
// min(BaseDelay × Multiplier^n, MaxDelay), optionally with ±10% jitter.
// The result stays within [0, MaxDelay]; jitter never pushes past the cap.
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		jitter := d / 10
		d = d - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, the retry budget
// is exhausted, or ctx is cancelled. The last error is surfaced. The Result
// is valid in every case, including early ctx cancellation.
func (p Policy) Do(ctx context.Context, fn func() error) (Result, error) {
	start := time.Now()
	res := Result{}

	maxAttempts := p.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res.Attempts++
		err = fn()
		if err == nil {
			res.TotalDuration = time.Since(start)
			return res, nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			res.TotalDuration = time.Since(start)
			return res, pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			res.TotalDuration = time.Since(start)
			return res, ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	res.TotalDuration = time.Since(start)
	return res, err
}
