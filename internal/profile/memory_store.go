package profile

import (
	"context"
	"sort"
	"sync"

	"github.com/rentwise/riskd/internal/pagination"
)

// MemoryStore is an in-memory profile store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*RiskProfile // by ID
	active   map[pairKey]string      // (product, category) -> active profile ID
	audit    map[string][]*AuditEntry
}

type pairKey struct{ product, category string }

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*RiskProfile),
		active:   make(map[pairKey]string),
		audit:    make(map[string][]*AuditEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, p *RiskProfile, audit *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{p.ProductID, p.CategoryID}
	if p.IsActive {
		if _, taken := m.active[key]; taken {
			return ErrDuplicateActive
		}
		m.active[key] = p.ID
	}
	m.profiles[p.ID] = p.Clone()
	m.appendAudit(audit)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) FindActive(_ context.Context, productID, categoryID string) (*RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[pairKey{productID, categoryID}]
	if !ok {
		return nil, ErrNotFound
	}
	return m.profiles[id].Clone(), nil
}

func (m *MemoryStore) ListByProduct(_ context.Context, productID string) ([]*RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RiskProfile
	for _, p := range m.profiles {
		if p.ProductID == productID {
			result = append(result, p.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter, page pagination.Params) ([]*RiskProfile, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*RiskProfile
	for _, p := range m.profiles {
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	sortNewestFirst(matched)

	items, meta := pagination.Slice(matched, page)
	out := make([]*RiskProfile, len(items))
	for i, p := range items {
		out[i] = p.Clone()
	}
	return out, meta.Total, nil
}

func (m *MemoryStore) All(_ context.Context) ([]*RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*RiskProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, p *RiskProfile, expectedVersion int, audit *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.profiles[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	oldKey := pairKey{current.ProductID, current.CategoryID}
	newKey := pairKey{p.ProductID, p.CategoryID}
	if p.IsActive {
		if owner, taken := m.active[newKey]; taken && owner != p.ID {
			return ErrDuplicateActive
		}
	}
	if current.IsActive && m.active[oldKey] == p.ID {
		delete(m.active, oldKey)
	}
	if p.IsActive {
		m.active[newKey] = p.ID
	}
	m.profiles[p.ID] = p.Clone()
	m.appendAudit(audit)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string, audit *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	key := pairKey{p.ProductID, p.CategoryID}
	if m.active[key] == id {
		delete(m.active, key)
	}
	delete(m.profiles, id)
	m.appendAudit(audit)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, profileID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.audit[profileID]
	out := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) appendAudit(e *AuditEntry) {
	if e == nil {
		return
	}
	cp := *e
	m.audit[e.ProfileID] = append(m.audit[e.ProfileID], &cp)
}

func sortNewestFirst(ps []*RiskProfile) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID > ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
