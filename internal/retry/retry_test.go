package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	p := ToolPolicy()
	calls := 0

	res, err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, res.Attempts)
	}
}

func TestDo_RetryBound(t *testing.T) {
	// maxRetries=2 invokes the operation at most 3 times.
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	calls := 0
	wantErr := errors.New("always fails")

	res, err := p.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error surfaced, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	calls := 0

	res, err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_PermanentErrorStopsRetrying(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	inner := errors.New("bad request")

	_, err := p.Do(context.Background(), func() error {
		calls++
		return Permanent(inner)
	})
	if !errors.Is(err, inner) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelay_NonDecreasingAndCapped(t *testing.T) {
	p := Policy{MaxRetries: 4, BaseDelay: 150 * time.Millisecond, MaxDelay: 400 * time.Millisecond, Multiplier: 2}

	prev := time.Duration(0)
	for n := 0; n < 5; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", n, d, prev)
		}
		if d > p.MaxDelay {
			t.Errorf("Delay(%d) = %v exceeds max %v", n, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestDelay_JitterStaysWithinBand(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.Delay(0)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% band", d)
		}
	}
}

func TestDelay_JitterNeverExceedsMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: 150 * time.Millisecond, MaxDelay: 400 * time.Millisecond, Multiplier: 2, Jitter: true}

	// Delay(2) hits the cap before jitter; the perturbed value must not
	// land above it.
	for i := 0; i < 100; i++ {
		if d := p.Delay(2); d > p.MaxDelay {
			t.Fatalf("Delay(2) = %v exceeds max %v", d, p.MaxDelay)
		}
	}
}

func TestProfiles(t *testing.T) {
	tool := ToolPolicy()
	if tool.MaxRetries != 2 || tool.BaseDelay != 150*time.Millisecond || tool.MaxDelay != 400*time.Millisecond {
		t.Errorf("unexpected tool profile: %+v", tool)
	}
	flow := FlowPolicy()
	if flow.MaxRetries != 1 || flow.BaseDelay != 200*time.Millisecond || flow.MaxDelay != 500*time.Millisecond {
		t.Errorf("unexpected flow profile: %+v", flow)
	}
}
