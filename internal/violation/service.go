package violation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/idgen"
	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/metrics"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/traces"
	"github.com/rentwise/riskd/internal/validation"
)

const (
	maxDescriptionLength = 2000
	maxNotesLength       = 2000
)

// Event names emitted on violation changes.
const (
	EventRecorded = "violation_recorded"
	EventUpdated  = "violation_updated"
)

// EventEmitter receives violation changes for live subscribers.
type EventEmitter interface {
	EmitViolation(event string, v *Violation)
}

// BookingRef is the part of a booking a manual report is checked against.
type BookingRef struct {
	ProductID string
}

// BookingLookup resolves booking references. It returns an error wrapping
// apierr.ErrNotFound for unknown bookings.
type BookingLookup interface {
	LookupBooking(ctx context.Context, id string) (BookingRef, error)
}

// CreateRequest is a manual violation report.
type CreateRequest struct {
	BookingID     string           `json:"bookingId"`
	ProductID     string           `json:"productId"`
	ViolatorID    string           `json:"violatorId"`
	ViolationType string           `json:"violationType"`
	Severity      string           `json:"severity"`
	Description   string           `json:"description"`
	PenaltyAmount *decimal.Decimal `json:"penaltyAmount"`
	DetectedAt    *time.Time       `json:"detectedAt"`
	DueAt         *time.Time       `json:"dueAt"`
}

// AutoRecord describes a violation found by a compliance evaluation.
type AutoRecord struct {
	BookingID   string
	ProductID   string
	ViolatorID  string
	ProfileID   string
	Requirement string
	Type        Type
	Severity    Severity
	Description string
	DetectedAt  time.Time
	DueAt       *time.Time
	// Dedupe makes RecordAuto return ErrDuplicateOpen when the booking
	// already has an unresolved violation for Requirement.
	Dedupe bool
}

// Service implements violation reporting and lifecycle.
type Service struct {
	store    Store
	bookings BookingLookup
	events   EventEmitter
	now      func() time.Time
}

// NewService creates a violation service. bookings may be nil, in which
// case booking references are not checked.
func NewService(store Store, bookings BookingLookup) *Service {
	return &Service{
		store:    store,
		bookings: bookings,
		now:      time.Now,
	}
}

// WithEvents attaches a live event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Create records a manually reported violation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Violation, error) {
	now := s.now().UTC()
	v := &Violation{
		ID:                idgen.New(),
		BookingID:         strings.ToLower(strings.TrimSpace(req.BookingID)),
		ProductID:         strings.ToLower(strings.TrimSpace(req.ProductID)),
		ViolatorID:        strings.TrimSpace(req.ViolatorID),
		Type:              Type(strings.ToLower(strings.TrimSpace(req.ViolationType))),
		Status:            StatusOpen,
		Source:            SourceManual,
		Description:       validation.SanitizeString(strings.TrimSpace(req.Description), maxDescriptionLength),
		ResolutionActions: []string{},
		ReportedBy:        auth.Actor(ctx),
		DetectedAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	errs := validation.Validate(
		validation.UUID("bookingId", v.BookingID),
		validation.UUID("productId", v.ProductID),
		validation.Required("violatorId", v.ViolatorID),
		validation.MaxLength("violatorId", v.ViolatorID, 128),
		validation.Required("violationType", string(v.Type)),
		validation.OneOf("violationType", string(v.Type), toStrings(Types)...),
	)
	if v.BookingID == "" && v.ProductID == "" {
		errs.Add("bookingId", "bookingId or productId is required")
	}
	if req.Severity == "" {
		errs.Add("severity", "is required")
	} else if sev, ok := ParseSeverity(req.Severity); ok {
		v.Severity = sev
	} else {
		errs.Add("severity", "must be one of minor, moderate, major, critical (or low, medium, high)")
	}
	if req.PenaltyAmount != nil {
		if req.PenaltyAmount.IsNegative() {
			errs.Add("penaltyAmount", "must be greater than or equal to 0")
		} else {
			p := req.PenaltyAmount.Round(2)
			v.PenaltyAmount = &p
		}
	}
	if req.DetectedAt != nil {
		if req.DetectedAt.After(now.Add(time.Minute)) {
			errs.Add("detectedAt", "must not be in the future")
		}
		v.DetectedAt = req.DetectedAt.UTC()
	}
	if req.DueAt != nil {
		due := req.DueAt.UTC()
		if due.Before(v.DetectedAt) {
			errs.Add("dueAt", "must not be before detectedAt")
		}
		v.DueAt = &due
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if v.BookingID != "" && s.bookings != nil {
		ref, err := s.bookings.LookupBooking(ctx, v.BookingID)
		if err != nil {
			return nil, err
		}
		switch {
		case v.ProductID == "":
			v.ProductID = ref.ProductID
		case v.ProductID != ref.ProductID:
			return nil, validation.Single("productId", "does not match the booking's product")
		}
	}

	if err := s.store.Create(ctx, v); err != nil {
		return nil, err
	}
	s.recorded(ctx, v)
	return v, nil
}

// RecordAuto stores a violation found by a compliance evaluation.
func (s *Service) RecordAuto(ctx context.Context, rec AutoRecord) (*Violation, error) {
	now := s.now().UTC()
	detected := rec.DetectedAt
	if detected.IsZero() {
		detected = now
	}
	v := &Violation{
		ID:                idgen.New(),
		BookingID:         rec.BookingID,
		ProductID:         rec.ProductID,
		ViolatorID:        rec.ViolatorID,
		ProfileID:         rec.ProfileID,
		Requirement:       rec.Requirement,
		Type:              rec.Type,
		Severity:          rec.Severity,
		Status:            StatusOpen,
		Source:            SourceAuto,
		Description:       rec.Description,
		ResolutionActions: []string{},
		ReportedBy:        auth.Actor(ctx),
		DetectedAt:        detected,
		DueAt:             cloneTime(rec.DueAt),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	create := s.store.Create
	if rec.Dedupe && rec.Requirement != "" {
		create = s.store.CreateUnlessOpen
	}
	if err := create(ctx, v); err != nil {
		return nil, err
	}
	s.recorded(ctx, v)
	return v, nil
}

func (s *Service) recorded(ctx context.Context, v *Violation) {
	metrics.ViolationsRecordedTotal.WithLabelValues(string(v.Type), string(v.Source)).Inc()
	s.emit(EventRecorded, v)
	logging.L(ctx).Info("violation recorded",
		"violation_id", v.ID, "booking_id", v.BookingID, "type", v.Type,
		"severity", v.Severity, "source", v.Source)
}

// Get returns a violation by ID.
func (s *Service) Get(ctx context.Context, id string) (*Violation, error) {
	return s.store.Get(ctx, id)
}

// Page is one page of List results.
type Page struct {
	Violations []*Violation `json:"violations"`
	pagination.Meta
}

// List returns violations matching f, most recently detected first.
func (s *Service) List(ctx context.Context, f Filter, p pagination.Params) (*Page, error) {
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Violation{}
	}
	return &Page{Violations: items, Meta: pagination.NewMeta(p, total)}, nil
}

// Unresolved returns the booking's violations that are still being worked.
func (s *Service) Unresolved(ctx context.Context, bookingID string) ([]*Violation, error) {
	return s.store.Unresolved(ctx, bookingID)
}

// All returns every stored violation.
func (s *Service) All(ctx context.Context) ([]*Violation, error) {
	return s.store.All(ctx)
}

// Assign hands the violation to an inspector and starts work on it.
func (s *Service) Assign(ctx context.Context, id, inspectorID string) (*Violation, error) {
	inspectorID = strings.TrimSpace(inspectorID)
	if errs := validation.Validate(
		validation.Required("inspectorId", inspectorID),
		validation.MaxLength("inspectorId", inspectorID, 128),
	); len(errs) > 0 {
		return nil, errs
	}
	return s.transition(ctx, id, ActionAssign, func(v *Violation, _ time.Time) {
		v.AssignedTo = inspectorID
	})
}

// Investigate moves an in-progress violation under investigation.
func (s *Service) Investigate(ctx context.Context, id string) (*Violation, error) {
	return s.transition(ctx, id, ActionInvestigate, nil)
}

// Resolve closes out the work on a violation. Notes are required.
func (s *Service) Resolve(ctx context.Context, id, notes string, actions []string) (*Violation, error) {
	notes = validation.SanitizeString(strings.TrimSpace(notes), maxNotesLength)
	if notes == "" {
		return nil, validation.Single("resolutionNotes", "is required")
	}
	cleaned := make([]string, 0, len(actions))
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, validation.SanitizeString(a, maxNotesLength))
		}
	}
	return s.transition(ctx, id, ActionResolve, func(v *Violation, now time.Time) {
		v.ResolutionNotes = notes
		v.ResolutionActions = append(v.ResolutionActions, cleaned...)
		v.ResolvedAt = &now
	})
}

// Escalate flags a violation that is not yet resolved for senior review.
func (s *Service) Escalate(ctx context.Context, id, reason string) (*Violation, error) {
	reason = validation.SanitizeString(strings.TrimSpace(reason), maxNotesLength)
	return s.transition(ctx, id, ActionEscalate, func(v *Violation, _ time.Time) {
		v.EscalationReason = reason
	})
}

// Close is the administrative close-out of a resolved violation.
func (s *Service) Close(ctx context.Context, id string) (*Violation, error) {
	return s.transition(ctx, id, ActionClose, func(v *Violation, now time.Time) {
		v.ClosedAt = &now
	})
}

// transition applies action to the stored violation. The store update is
// conditional on the status read here, so a concurrent writer surfaces as
// ErrStatusChanged instead of being overwritten.
func (s *Service) transition(ctx context.Context, id string, action Action, mutate func(v *Violation, now time.Time)) (*Violation, error) {
	ctx, span := traces.StartSpan(ctx, "violation."+string(action), traces.ViolationID(id))
	defer span.End()

	v, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.Status
	to, ok := Next(from, action)
	if !ok {
		err := &apierr.TransitionError{Entity: "violation", ID: id, From: string(from), Action: string(action)}
		traces.RecordError(span, err)
		return nil, err
	}

	now := s.now().UTC()
	if mutate != nil {
		mutate(v, now)
	}
	v.Status = to
	v.UpdatedAt = now

	if err := s.store.Update(ctx, v, from); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	metrics.ViolationTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.emit(EventUpdated, v)
	logging.L(ctx).Info("violation transitioned", "violation_id", id, "action", action, "from", from, "to", to)
	return v, nil
}

func (s *Service) emit(event string, v *Violation) {
	if s.events != nil {
		s.events.EmitViolation(event, v.Clone())
	}
}

// Summary is the violation rollup used by the stats endpoint.
type Summary struct {
	Total            int              `json:"total"`
	Unresolved       int              `json:"unresolved"`
	AutoRecorded     int              `json:"autoRecorded"`
	ByStatus         map[Status]int   `json:"byStatus"`
	BySeverity       map[Severity]int `json:"bySeverity"`
	ByType           map[Type]int     `json:"byType"`
	OpenPenaltyTotal decimal.Decimal  `json:"openPenaltyTotal"`
}

// Summarize rolls up violations. OpenPenaltyTotal sums the penalties of
// violations not yet resolved or closed.
func Summarize(vs []*Violation) Summary {
	s := Summary{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
	}
	for _, v := range vs {
		s.Total++
		s.ByStatus[v.Status]++
		s.BySeverity[v.Severity]++
		s.ByType[v.Type]++
		if v.Source == SourceAuto {
			s.AutoRecorded++
		}
		if !v.Status.IsTerminal() {
			s.Unresolved++
			if v.PenaltyAmount != nil {
				s.OpenPenaltyTotal = s.OpenPenaltyTotal.Add(*v.PenaltyAmount)
			}
		}
	}
	return s
}

// Summary rolls up every stored violation.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all), nil
}
