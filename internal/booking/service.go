package booking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/idgen"
	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/validation"
	"github.com/rentwise/riskd/internal/violation"
)

const maxTextLength = 500

// InsuranceRequest is the insurance block of a booking submission.
type InsuranceRequest struct {
	Provider     string          `json:"provider"`
	PolicyNumber string          `json:"policyNumber"`
	Coverage     decimal.Decimal `json:"coverage"`
	ValidUntil   *time.Time      `json:"validUntil"`
}

// Normalize validates the block. Field names are reported under prefix.
func (r InsuranceRequest) Normalize(prefix string) (*Insurance, validation.ValidationErrors) {
	ins := &Insurance{
		Provider:     validation.SanitizeString(strings.TrimSpace(r.Provider), maxTextLength),
		PolicyNumber: validation.SanitizeString(strings.TrimSpace(r.PolicyNumber), maxTextLength),
		Coverage:     r.Coverage.Round(2),
		ValidUntil:   r.ValidUntil,
	}
	errs := validation.Validate(
		validation.Required(prefix+"provider", ins.Provider),
	)
	if ins.Coverage.IsNegative() {
		errs.Add(prefix+"coverage", "must be greater than or equal to 0")
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if ins.ValidUntil != nil {
		t := ins.ValidUntil.UTC()
		ins.ValidUntil = &t
	}
	return ins, nil
}

// InspectionRequest records one inspection.
type InspectionRequest struct {
	Type        string     `json:"type"`
	Passed      *bool      `json:"passed"`
	InspectorID string     `json:"inspectorId"`
	Notes       string     `json:"notes"`
	InspectedAt *time.Time `json:"inspectedAt"`
}

// Normalize validates the request. The inspector defaults to inspector and
// the time to now.
func (r InspectionRequest) Normalize(prefix, inspector string, now time.Time) (Inspection, validation.ValidationErrors) {
	in := Inspection{
		ID:          idgen.New(),
		Type:        strings.ToLower(strings.TrimSpace(r.Type)),
		InspectorID: strings.TrimSpace(r.InspectorID),
		Notes:       validation.SanitizeString(strings.TrimSpace(r.Notes), maxTextLength),
		InspectedAt: now.UTC(),
	}
	if in.InspectorID == "" {
		in.InspectorID = inspector
	}
	if r.InspectedAt != nil {
		in.InspectedAt = r.InspectedAt.UTC()
	}

	errs := validation.Validate(
		validation.Required(prefix+"type", in.Type),
		validation.MaxLength(prefix+"type", in.Type, 100),
	)
	if r.Passed == nil {
		errs.Add(prefix+"passed", "is required")
	} else {
		in.Passed = *r.Passed
	}
	return in, errs
}

// UpsertRequest creates or replaces a booking.
type UpsertRequest struct {
	ProductID  string            `json:"productId"`
	CategoryID string            `json:"categoryId"`
	RenterID   string            `json:"renterId"`
	OwnerID    string            `json:"ownerId"`
	StartsAt   *time.Time        `json:"startsAt"`
	EndsAt     *time.Time        `json:"endsAt"`
	Insurance  *InsuranceRequest `json:"insurance"`
}

// Service implements booking evidence operations.
type Service struct {
	store               Store
	allowSlugCategories bool
	now                 func() time.Time
}

// NewService creates a booking service.
func NewService(store Store, allowSlugCategories bool) *Service {
	return &Service{store: store, allowSlugCategories: allowSlugCategories, now: time.Now}
}

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// LookupBooking resolves a booking reference for violation reports.
func (s *Service) LookupBooking(ctx context.Context, id string) (violation.BookingRef, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return violation.BookingRef{}, err
	}
	return violation.BookingRef{ProductID: b.ProductID}, nil
}

// Upsert creates or replaces the booking's own fields.
func (s *Service) Upsert(ctx context.Context, id string, req UpsertRequest) (*Booking, error) {
	b := &Booking{
		ID:          strings.ToLower(strings.TrimSpace(id)),
		ProductID:   strings.ToLower(strings.TrimSpace(req.ProductID)),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		RenterID:    strings.TrimSpace(req.RenterID),
		OwnerID:     strings.TrimSpace(req.OwnerID),
		StartsAt:    utc(req.StartsAt),
		EndsAt:      utc(req.EndsAt),
		Inspections: []Inspection{},
	}
	if validation.IsUUID(b.CategoryID) {
		b.CategoryID = strings.ToLower(b.CategoryID)
	}

	errs := validation.Validate(
		validation.UUID("id", b.ID),
		validation.Required("productId", b.ProductID),
		validation.UUID("productId", b.ProductID),
		validation.Required("categoryId", b.CategoryID),
		validation.CategoryID("categoryId", b.CategoryID, s.allowSlugCategories),
		validation.Required("renterId", b.RenterID),
		validation.MaxLength("renterId", b.RenterID, 128),
		validation.Required("ownerId", b.OwnerID),
		validation.MaxLength("ownerId", b.OwnerID, 128),
	)
	if b.StartsAt != nil && b.EndsAt != nil && b.EndsAt.Before(*b.StartsAt) {
		errs.Add("endsAt", "must not be before startsAt")
	}
	if req.Insurance != nil {
		ins, ierrs := req.Insurance.Normalize("insurance.")
		errs = append(errs, ierrs...)
		b.Insurance = ins
	}
	if len(errs) > 0 {
		return nil, errs
	}

	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	out, err := s.store.Upsert(ctx, b)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("booking upserted", "booking_id", out.ID, "product_id", out.ProductID)
	return out, nil
}

// AttachInsurance replaces the booking's insurance.
func (s *Service) AttachInsurance(ctx context.Context, id string, req InsuranceRequest) (*Booking, error) {
	ins, errs := req.Normalize("")
	if len(errs) > 0 {
		return nil, errs
	}
	out, err := s.store.AttachInsurance(ctx, id, ins, s.now().UTC())
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("booking insurance attached", "booking_id", id, "coverage", ins.Coverage.String())
	return out, nil
}

// AddInspection records an inspection. The caller is the inspector unless
// the request names one.
func (s *Service) AddInspection(ctx context.Context, id string, req InspectionRequest) (*Booking, error) {
	now := s.now()
	in, errs := req.Normalize("", auth.Actor(ctx), now)
	if len(errs) > 0 {
		return nil, errs
	}
	out, err := s.store.AddInspection(ctx, id, in, now.UTC())
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("booking inspection recorded", "booking_id", id, "type", in.Type, "passed", in.Passed)
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
