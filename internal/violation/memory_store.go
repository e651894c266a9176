package violation

import (
	"context"
	"sort"
	"sync"

	"github.com/rentwise/riskd/internal/pagination"
)

// MemoryStore is an in-memory violation store for tests and demo mode.
type MemoryStore struct {
	mu         sync.RWMutex
	violations map[string]*Violation
}

// NewMemoryStore creates a new in-memory violation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{violations: make(map[string]*Violation)}
}

func (m *MemoryStore) Create(_ context.Context, v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStore) CreateUnlessOpen(_ context.Context, v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.violations {
		if existing.BookingID == v.BookingID && existing.Requirement == v.Requirement && !existing.Status.IsTerminal() {
			return ErrDuplicateOpen
		}
	}
	m.violations[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.violations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, v *Violation, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.violations[v.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrStatusChanged
	}
	m.violations[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context, f Filter, page pagination.Params) ([]*Violation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Violation
	for _, v := range m.violations {
		if f.Matches(v) {
			matched = append(matched, v.Clone())
		}
	}
	sortNewestFirst(matched)
	items, meta := pagination.Slice(matched, page)
	return items, meta.Total, nil
}

func (m *MemoryStore) Unresolved(_ context.Context, bookingID string) ([]*Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Violation
	for _, v := range m.violations {
		if v.BookingID == bookingID && !v.Status.IsTerminal() {
			result = append(result, v.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *MemoryStore) All(_ context.Context) ([]*Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Violation, 0, len(m.violations))
	for _, v := range m.violations {
		result = append(result, v.Clone())
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(vs []*Violation) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].DetectedAt.Equal(vs[j].DetectedAt) {
			return vs[i].DetectedAt.After(vs[j].DetectedAt)
		}
		return vs[i].ID > vs[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
