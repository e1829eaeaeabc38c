package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinelpay/triage/internal/keystore"
)

func newTestBreaker(threshold int, recovery, monitoring time.Duration) *Breaker {
	return New(keystore.NewMemoryStore(), Config{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		MonitoringPeriod: monitoring,
	}, slog.Default())
}

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestExecute_ClosedPassesThrough(t *testing.T) {
	b := newTestBreaker(3, time.Minute, time.Hour)

	if err := b.Execute(context.Background(), "step_profile", succeed); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st := b.State(context.Background(), "step_profile"); st.State != StateClosed {
		t.Errorf("state = %s, want closed", st.State)
	}
}

func TestExecute_TripsAfterThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, "step_profile", fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	// Exactly failureThreshold consecutive failures: next call rejected
	// without invoking the operation.
	invoked := false
	err := b.Execute(ctx, "step_profile", func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("operation must not run while circuit is open")
	}
	if st := b.State(ctx, "step_profile"); st.State != StateOpen {
		t.Errorf("state = %s, want open", st.State)
	}
}

func TestExecute_BelowThresholdStaysClosed(t *testing.T) {
	b := newTestBreaker(3, time.Minute, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)

	if err := b.Execute(ctx, "k", succeed); err != nil {
		t.Fatalf("expected closed circuit to allow, got %v", err)
	}
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", succeed)

	if st := b.State(ctx, "k"); st.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 after success", st.FailureCount)
	}

	// Two more failures should not trip a threshold of 3.
	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)
	if err := b.Execute(ctx, "k", succeed); err != nil {
		t.Fatalf("circuit should still be closed: %v", err)
	}
}

func TestExecute_HalfOpenProbeCloses(t *testing.T) {
	b := newTestBreaker(2, 30*time.Millisecond, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)

	if err := b.Execute(ctx, "k", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open rejection, got %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	// First call after recoveryTimeout probes and closes the circuit.
	if err := b.Execute(ctx, "k", succeed); err != nil {
		t.Fatalf("probe should run and succeed: %v", err)
	}
	st := b.State(ctx, "k")
	if st.State != StateClosed || st.FailureCount != 0 {
		t.Errorf("state = %+v, want closed with 0 failures", st)
	}
}

func TestExecute_HalfOpenProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(2, 30*time.Millisecond, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)
	time.Sleep(40 * time.Millisecond)

	if err := b.Execute(ctx, "k", fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe should run, got %v", err)
	}

	// Probe failed: open again with a fresh nextAttemptTime.
	if err := b.Execute(ctx, "k", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened circuit, got %v", err)
	}
}

func TestExecute_PassiveResetAfterQuietPeriod(t *testing.T) {
	b := newTestBreaker(2, time.Hour, 30*time.Millisecond)
	ctx := context.Background()

	_ = b.Execute(ctx, "k", fail)
	_ = b.Execute(ctx, "k", fail)

	time.Sleep(40 * time.Millisecond)

	// Monitoring period of inactivity force-resets to closed.
	if err := b.Execute(ctx, "k", succeed); err != nil {
		t.Fatalf("expected passive reset to allow, got %v", err)
	}
	if st := b.State(ctx, "k"); st.State != StateClosed {
		t.Errorf("state = %s, want closed", st.State)
	}
}

func TestExecute_KeysAreIndependent(t *testing.T) {
	b := newTestBreaker(2, time.Minute, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "step_profile", fail)
	_ = b.Execute(ctx, "step_profile", fail)

	if err := b.Execute(ctx, "step_kb_lookup", succeed); err != nil {
		t.Fatalf("unrelated key must stay closed: %v", err)
	}
}

// failingStore simulates an unreachable backing store.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("store down")
}
func (failingStore) CompareAndSwap(context.Context, string, []byte, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("store down") }

func TestExecute_FailsOpenOnStoreError(t *testing.T) {
	b := New(failingStore{}, DefaultConfig(), slog.Default())

	if err := b.Execute(context.Background(), "k", succeed); err != nil {
		t.Fatalf("store failure must not block the operation: %v", err)
	}
}
