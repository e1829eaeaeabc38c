package keystore

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process keystore for single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty in-memory keystore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: cp, expiresAt: expires}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && !entry.expired(time.Now()) {
		return false, nil
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: cp, expiresAt: expires}
	return true, nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, key string, old, new []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(time.Now()) {
		return ErrNotFound
	}
	if !bytes.Equal(entry.value, old) {
		return ErrCASConflict
	}

	cp := make([]byte, len(new))
	copy(cp, new)
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: cp, expiresAt: expires}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries to keep the map bounded.
// Called by a background timer. Returns the number removed.
func (m *MemoryStore) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of live entries (expired entries count until swept).
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
