package compliance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory compliance store for tests and demo mode.
type MemoryStore struct {
	mu          sync.RWMutex
	checks      []*Check
	assessments map[string]*Assessment
}

// NewMemoryStore creates a new in-memory compliance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assessments: make(map[string]*Assessment)}
}

func (m *MemoryStore) AppendCheck(_ context.Context, c *Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.SupersedesID = ""
	for i := len(m.checks) - 1; i >= 0; i-- {
		if m.checks[i].BookingID == c.BookingID {
			c.SupersedesID = m.checks[i].ID
			break
		}
	}
	m.checks = append(m.checks, c.Clone())
	return nil
}

func (m *MemoryStore) ListChecks(_ context.Context, bookingID string) ([]*Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Check{}
	for i := len(m.checks) - 1; i >= 0; i-- {
		if m.checks[i].BookingID == bookingID {
			result = append(result, m.checks[i].Clone())
		}
	}
	return result, nil
}

func (m *MemoryStore) ChecksSince(_ context.Context, since time.Time) ([]*Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Check{}
	for _, c := range m.checks {
		if !c.CheckedAt.Before(since) {
			result = append(result, c.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CheckedAt.Before(result[j].CheckedAt)
	})
	return result, nil
}

func (m *MemoryStore) CreateAssessment(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) GetAssessment(_ context.Context, id string) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assessments[id]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	return a.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
