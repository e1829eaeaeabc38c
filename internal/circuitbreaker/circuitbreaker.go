// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions, backed by a keyed store so
// state can be shared across instances.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentinelpay/triage/internal/keystore"
	"github.com/sentinelpay/triage/internal/syncutil"
)

// ErrCircuitOpen is returned when a call is rejected without invoking the
// operation because the circuit is open.
var ErrCircuitOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"    // Normal: requests flow through
	StateOpen     State = "open"      // Tripped: requests are rejected
	StateHalfOpen State = "half_open" // Probing: one request allowed to test recovery
)

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Config controls when a circuit trips and recovers.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // open duration before a half-open probe
	MonitoringPeriod time.Duration // quiet period after which state force-resets
}

// DefaultConfig matches the step-level profile used by the orchestrator.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: 2 * time.Minute,
	}
}

// CircuitState is the persisted per-key state machine snapshot.
type CircuitState struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failureCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
	NextAttemptTime time.Time `json:"nextAttemptTime"`
}

// Breaker wraps operations with per-key circuit breaking. Access to a single
// key is serialized through a sharded mutex; the operation itself runs under
// that lock, which also enforces the single-probe semantics of half-open.
// If the backing store is unreachable the breaker fails open: the operation
// runs as if the circuit were closed and the degradation is logged.
type Breaker struct {
	store  keystore.Store
	cfg    Config
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// New creates a circuit breaker over the given keyed store.
func New(store keystore.Store, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = DefaultConfig().MonitoringPeriod
	}
	return &Breaker{store: store, cfg: cfg, logger: logger}
}

// Execute runs op under the circuit for key. If the circuit is open and the
// recovery timeout has not elapsed, op is not invoked and ErrCircuitOpen is
// returned (wrapped with the key).
func (b *Breaker) Execute(ctx context.Context, key string, op func() error) error {
	unlock := b.locks.Lock(key)
	defer unlock()

	st := b.load(ctx, key)
	now := time.Now()

	// Passive reset: prolonged quiet counts as recovery.
	if st.FailureCount > 0 && !st.LastFailureTime.IsZero() && now.Sub(st.LastFailureTime) > b.cfg.MonitoringPeriod {
		b.transition(key, st.State, StateClosed)
		st = &CircuitState{State: StateClosed}
	}

	switch st.State {
	case StateOpen:
		if now.Before(st.NextAttemptTime) {
			return fmt.Errorf("%w: key %s until %s", ErrCircuitOpen, key, st.NextAttemptTime.Format(time.RFC3339))
		}
		b.transition(key, StateOpen, StateHalfOpen)
		st.State = StateHalfOpen
		b.save(ctx, key, st)
	case StateHalfOpen, StateClosed:
		// proceed
	default:
		st.State = StateClosed
	}

	err := op()

	if err == nil {
		if st.State == StateHalfOpen {
			b.transition(key, StateHalfOpen, StateClosed)
		}
		b.save(ctx, key, &CircuitState{State: StateClosed})
		return nil
	}

	st.FailureCount++
	st.LastFailureTime = time.Now()

	if st.State == StateHalfOpen || st.FailureCount >= b.cfg.FailureThreshold {
		from := st.State
		st.State = StateOpen
		st.NextAttemptTime = st.LastFailureTime.Add(b.cfg.RecoveryTimeout)
		b.transition(key, from, StateOpen)
	}
	b.save(ctx, key, st)

	return err
}

// State returns the current state for a key, applying the passive reset rule.
// Unknown keys report closed.
func (b *Breaker) State(ctx context.Context, key string) CircuitState {
	unlock := b.locks.Lock(key)
	defer unlock()

	st := b.load(ctx, key)
	if st.FailureCount > 0 && !st.LastFailureTime.IsZero() && time.Since(st.LastFailureTime) > b.cfg.MonitoringPeriod {
		return CircuitState{State: StateClosed}
	}
	return *st
}

func (b *Breaker) load(ctx context.Context, key string) *CircuitState {
	raw, err := b.store.Get(ctx, "cb:"+key)
	if errors.Is(err, keystore.ErrNotFound) {
		return &CircuitState{State: StateClosed}
	}
	if err != nil {
		b.logger.Warn("circuit state store unreachable, failing open", "key", key, "error", err)
		return &CircuitState{State: StateClosed}
	}

	var st CircuitState
	if err := json.Unmarshal(raw, &st); err != nil {
		b.logger.Warn("corrupt circuit state, resetting", "key", key, "error", err)
		return &CircuitState{State: StateClosed}
	}
	return &st
}

func (b *Breaker) save(ctx context.Context, key string, st *CircuitState) {
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	// State expires after two monitoring periods of inactivity, which is the
	// persisted form of the passive reset.
	if err := b.store.Set(ctx, "cb:"+key, raw, 2*b.cfg.MonitoringPeriod); err != nil {
		b.logger.Warn("failed to persist circuit state", "key", key, "error", err)
	}
}

func (b *Breaker) transition(key string, from, to State) {
	if from == to {
		return
	}
	cbStateTransitions.WithLabelValues(key, string(from), string(to)).Inc()
}
