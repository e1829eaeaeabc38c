// Package keystore provides a keyed value store with TTLs and compare-and-swap,
// shared by the circuit breaker, token bucket limiter, and idempotency
// coordinator. The same logic runs against an in-process map (single instance)
// or Redis (multi-instance); per-key serialization is the caller's concern and
// is made explicit via syncutil.ShardedMutex rather than hidden in the store.
package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no live value.
var ErrNotFound = errors.New("keystore: not found")

// ErrCASConflict is returned when CompareAndSwap loses a race.
var ErrCASConflict = errors.New("keystore: compare-and-swap conflict")

// Store is a keyed byte store with per-key TTLs.
//
// Implementations may be remote; callers must treat any non-ErrNotFound,
// non-ErrCASConflict error as an infrastructure failure and apply their own
// fail-open or fail-closed policy.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes the value only if the key does not exist.
	// Returns true if the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value only if the current value equals old.
	// Returns ErrCASConflict if it does not, ErrNotFound if the key is gone.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
