package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger for demo/development mode.
type MemoryStore struct {
	mu           sync.RWMutex
	customers    map[string]*Customer
	transactions map[string]*Transaction
	devices      map[string][]*Device     // keyed by customer ID
	chargebacks  map[string][]*Chargeback // keyed by customer ID
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:    make(map[string]*Customer),
		transactions: make(map[string]*Transaction),
		devices:      make(map[string][]*Device),
		chargebacks:  make(map[string][]*Chargeback),
	}
}

func (m *MemoryStore) FindCustomerByID(_ context.Context, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) FindTransactionByID(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) FindTransactionsByCustomer(_ context.Context, customerID string, limit, offset int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Transaction
	for _, tx := range m.transactions {
		if tx.CustomerID == customerID {
			cp := *tx
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) FindDevicesByCustomer(_ context.Context, customerID string) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := m.devices[customerID]
	result := make([]*Device, len(devices))
	for i, d := range devices {
		cp := *d
		result[i] = &cp
	}
	return result, nil
}

func (m *MemoryStore) FindChargebacksByCustomer(_ context.Context, customerID string) ([]*Chargeback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chargebacks := m.chargebacks[customerID]
	result := make([]*Chargeback, len(chargebacks))
	for i, cb := range chargebacks {
		cp := *cb
		result[i] = &cp
	}
	return result, nil
}

// PutCustomer inserts or replaces a customer.
func (m *MemoryStore) PutCustomer(c *Customer) {
	m.mu.Lock()
	cp := *c
	m.customers[c.ID] = &cp
	m.mu.Unlock()
}

// PutTransaction inserts or replaces a transaction.
func (m *MemoryStore) PutTransaction(tx *Transaction) {
	m.mu.Lock()
	cp := *tx
	m.transactions[tx.ID] = &cp
	m.mu.Unlock()
}

// PutDevice appends a device record for its customer.
func (m *MemoryStore) PutDevice(d *Device) {
	m.mu.Lock()
	cp := *d
	m.devices[d.CustomerID] = append(m.devices[d.CustomerID], &cp)
	m.mu.Unlock()
}

// PutChargeback appends a chargeback record for its customer.
func (m *MemoryStore) PutChargeback(cb *Chargeback) {
	m.mu.Lock()
	cp := *cb
	m.chargebacks[cb.CustomerID] = append(m.chargebacks[cb.CustomerID], &cp)
	m.mu.Unlock()
}

// SeedDemo loads a small fixture set: one established customer with regular
// daytime grocery spending in Mumbai, a known device, and one prior
// chargeback. Useful for demo mode and tests.
func (m *MemoryStore) SeedDemo() {
	now := time.Now()

	m.PutCustomer(&Customer{
		ID:            "cust_demo1",
		Name:          "Asha Patel",
		Email:         "asha@example.com",
		KYCVerified:   true,
		ConsentGiven:  true,
		HomeCity:      "Mumbai",
		AccountOpened: now.AddDate(-3, 0, 0),
	})

	m.PutDevice(&Device{
		ID:         "dev_demo1",
		CustomerID: "cust_demo1",
		Label:      "Android phone",
		FirstSeen:  now.AddDate(-2, 0, 0),
		LastSeen:   now.Add(-24 * time.Hour),
	})

	// Mumbai coordinates, modest amounts, spread over recent days.
	merchants := []string{"QuickMart", "QuickMart", "CityFuel", "QuickMart", "ChaiPoint", "CityFuel", "QuickMart", "ChaiPoint"}
	for i, merchant := range merchants {
		m.PutTransaction(&Transaction{
			ID:         "txn_demo" + string(rune('a'+i)),
			CustomerID: "cust_demo1",
			Amount:     800 + float64(i)*150,
			Currency:   "INR",
			Merchant:   merchant,
			MCC:        "5411",
			DeviceID:   "dev_demo1",
			Latitude:   19.076,
			Longitude:  72.8777,
			HasGeo:     true,
			Timestamp:  now.Add(-time.Duration(i+2) * 26 * time.Hour),
		})
	}

	m.PutChargeback(&Chargeback{
		ID:            "cb_demo1",
		CustomerID:    "cust_demo1",
		TransactionID: "txn_demoa",
		Amount:        950,
		Reason:        "item not received",
		FiledAt:       now.AddDate(0, -4, 0),
	})
}
