package risk

import (
	"context"
	"sync"
)

const maxAssessmentsPerCustomer = 500

// MemoryStore keeps assessments in memory for demo/development mode.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // keyed by customer ID, newest first
}

// NewMemoryStore creates an empty in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assessments: make(map[string][]*Assessment)}
}

func (m *MemoryStore) Record(_ context.Context, assessment *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([]*Assessment{assessment}, m.assessments[assessment.CustomerID]...)
	if len(list) > maxAssessmentsPerCustomer {
		list = list[:maxAssessmentsPerCustomer]
	}
	m.assessments[assessment.CustomerID] = list
	return nil
}

func (m *MemoryStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.assessments[customerID]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	result := make([]*Assessment, len(list))
	copy(result, list)
	return result, nil
}
