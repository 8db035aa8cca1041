package credits

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

// MemoryBalanceStore provides an in-memory BalanceStore for testing and
// local runs.
type MemoryBalanceStore struct {
	mu       sync.RWMutex
	balances map[string]models.CreditBalance
}

// NewMemoryBalanceStore creates an empty in-memory balance store.
func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: map[string]models.CreditBalance{}}
}

func (m *MemoryBalanceStore) Balance(ctx context.Context, orgID string) (*models.CreditBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	balance, ok := m.balances[orgID]
	if !ok {
		return &models.CreditBalance{OrgID: orgID}, nil
	}
	clone := balance
	return &clone, nil
}

func (m *MemoryBalanceStore) Save(ctx context.Context, balance *models.CreditBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balance.OrgID] = *balance
	return nil
}

type ledgerKey struct {
	parent string
	child  string
	day    string
}

// MemoryLedgerStore provides an in-memory LedgerStore.
type MemoryLedgerStore struct {
	mu      sync.RWMutex
	entries map[ledgerKey]*LedgerEntry
}

// NewMemoryLedgerStore creates an empty in-memory ledger.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: map[ledgerKey]*LedgerEntry{}}
}

func (m *MemoryLedgerStore) Record(ctx context.Context, parentOrgID, childOrgID, day string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey{parent: parentOrgID, child: childOrgID, day: day}
	entry, ok := m.entries[key]
	if !ok {
		entry = &LedgerEntry{ParentOrgID: parentOrgID, ChildOrgID: childOrgID, Day: day}
		m.entries[key] = entry
	}
	entry.Amount += amount
	entry.UpdatedAt = time.Now()
	return entry.Amount, nil
}

func (m *MemoryLedgerStore) ChildConsumed(ctx context.Context, parentOrgID, childOrgID, day string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[ledgerKey{parent: parentOrgID, child: childOrgID, day: day}]
	if !ok {
		return 0, nil
	}
	return entry.Amount, nil
}

func (m *MemoryLedgerStore) TotalShared(ctx context.Context, parentOrgID, day string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for key, entry := range m.entries {
		if key.parent == parentOrgID && key.day == day {
			total += entry.Amount
		}
	}
	return total, nil
}

func (m *MemoryLedgerStore) Prune(ctx context.Context, cutoffDay string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for key := range m.entries {
		if key.day < cutoffDay {
			delete(m.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

// MemoryOrgDirectory is a fixed in-memory OrgDirectory.
type MemoryOrgDirectory struct {
	mu   sync.RWMutex
	orgs map[string]*models.Organization
}

// NewMemoryOrgDirectory creates a directory over the given organizations.
func NewMemoryOrgDirectory(orgs ...*models.Organization) *MemoryOrgDirectory {
	directory := &MemoryOrgDirectory{orgs: map[string]*models.Organization{}}
	for _, org := range orgs {
		directory.orgs[org.ID] = org
	}
	return directory
}

// Put adds or replaces an organization.
func (d *MemoryOrgDirectory) Put(org *models.Organization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[org.ID] = org
}

func (d *MemoryOrgDirectory) Org(ctx context.Context, orgID string) (*models.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.orgs[orgID]
	if !ok {
		return nil, ErrOrgNotFound
	}
	return org, nil
}
