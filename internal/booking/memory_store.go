package booking

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory booking store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*Booking
}

// NewMemoryStore creates a new in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*Booking)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryStore) Upsert(_ context.Context, b *Booking) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := b.Clone()
	if existing, ok := m.bookings[b.ID]; ok {
		next.CreatedAt = existing.CreatedAt
		next.Inspections = existing.Clone().Inspections
		if next.Insurance == nil {
			next.Insurance = existing.Clone().Insurance
		}
	}
	m.bookings[b.ID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) AttachInsurance(_ context.Context, id string, ins *Insurance, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ins
	b.Insurance = &cp
	b.UpdatedAt = at
	return b.Clone(), nil
}

func (m *MemoryStore) AddInspection(_ context.Context, id string, in Inspection, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Inspections = append(b.Inspections, in)
	b.UpdatedAt = at
	return b.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
