// Package booking keeps the compliance evidence attached to rental bookings:
// the insurance a renter holds and the inspections performed on the item.
package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/apierr"
)

// Errors
var (
	ErrNotFound = apierr.New(apierr.ErrNotFound, "booking not found")
)

// Insurance is the policy a renter attached to a booking.
type Insurance struct {
	Provider     string          `json:"provider"`
	PolicyNumber string          `json:"policyNumber"`
	Coverage     decimal.Decimal `json:"coverage"`
	ValidUntil   *time.Time      `json:"validUntil,omitempty"`
}

// ValidAt reports whether the policy is still in force at t.
func (i *Insurance) ValidAt(t time.Time) bool {
	return i.ValidUntil == nil || !i.ValidUntil.Before(t)
}

// Inspection is one recorded inspection of the rented item.
type Inspection struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Passed      bool      `json:"passed"`
	InspectorID string    `json:"inspectorId"`
	Notes       string    `json:"notes,omitempty"`
	InspectedAt time.Time `json:"inspectedAt"`
}

// Booking is a rental of a product, with its compliance evidence.
type Booking struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"productId"`
	CategoryID  string       `json:"categoryId"`
	RenterID    string       `json:"renterId"`
	OwnerID     string       `json:"ownerId"`
	StartsAt    *time.Time   `json:"startsAt,omitempty"`
	EndsAt      *time.Time   `json:"endsAt,omitempty"`
	Insurance   *Insurance   `json:"insurance,omitempty"`
	Inspections []Inspection `json:"inspections"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	cp := *b
	if b.Insurance != nil {
		ins := *b.Insurance
		cp.Insurance = &ins
	}
	cp.Inspections = make([]Inspection, len(b.Inspections))
	copy(cp.Inspections, b.Inspections)
	return &cp
}

// PassedInspection reports whether a passed inspection of the given type
// exists. An empty type matches any passed inspection.
func (b *Booking) PassedInspection(inspectionType string) bool {
	for _, in := range b.Inspections {
		if in.Passed && (inspectionType == "" || in.Type == inspectionType) {
			return true
		}
	}
	return false
}

// Store persists bookings and their evidence.
type Store interface {
	Get(ctx context.Context, id string) (*Booking, error)
	// Upsert writes the booking's own fields. Existing inspections are kept;
	// insurance is replaced only when b carries one.
	Upsert(ctx context.Context, b *Booking) (*Booking, error)
	AttachInsurance(ctx context.Context, id string, ins *Insurance, at time.Time) (*Booking, error)
	AddInspection(ctx context.Context, id string, in Inspection, at time.Time) (*Booking, error)
}
