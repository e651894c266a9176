package enforcement

import (
	"context"
	"sort"
	"sync"

	"github.com/rentwise/riskd/internal/pagination"
)

// MemoryStore is an in-memory enforcement store for tests and demo mode.
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewMemoryStore creates a new in-memory enforcement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*Action)}
}

func (m *MemoryStore) Create(_ context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, a *Action, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.actions[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrStatusChanged
	}
	m.actions[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context, f Filter, page pagination.Params) ([]*Action, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Action
	for _, a := range m.actions {
		if f.Matches(a) {
			matched = append(matched, a.Clone())
		}
	}
	sortNewestFirst(matched)
	items, meta := pagination.Slice(matched, page)
	return items, meta.Total, nil
}

func (m *MemoryStore) All(_ context.Context) ([]*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Action, 0, len(m.actions))
	for _, a := range m.actions {
		result = append(result, a.Clone())
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(as []*Action) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.After(as[j].CreatedAt)
		}
		return as[i].ID > as[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
