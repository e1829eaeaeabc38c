package compliance

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory policy store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*Policy)}
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Policy
	for _, p := range m.policies {
		if p.Active {
			result = append(result, copyPolicy(p))
		}
	}
	sortPolicies(result)
	return result, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Policy, 0, len(m.policies))
	for _, p := range m.policies {
		result = append(result, copyPolicy(p))
	}
	sortPolicies(result)
	return result, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

func (m *MemoryStore) Put(_ context.Context, policy *Policy) error {
	m.mu.Lock()
	m.policies[policy.ID] = copyPolicy(policy)
	m.mu.Unlock()
	return nil
}

func copyPolicy(p *Policy) *Policy {
	cp := *p
	cp.Rules = make([]Rule, len(p.Rules))
	copy(cp.Rules, p.Rules)
	return &cp
}

func sortPolicies(policies []*Policy) {
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
}
