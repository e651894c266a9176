package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/booking"
	"github.com/rentwise/riskd/internal/bulk"
	"github.com/rentwise/riskd/internal/idgen"
	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/metrics"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/traces"
	"github.com/rentwise/riskd/internal/validation"
	"github.com/rentwise/riskd/internal/violation"
)

// EventChecked is emitted for every stored compliance check.
const EventChecked = "compliance_checked"

// EventEmitter receives compliance checks for live subscribers.
type EventEmitter interface {
	EmitCompliance(event string, c *Check)
}

// ProfileSource finds the active profile of a product/category pair. It
// returns profile.ErrNotFound when there is none.
type ProfileSource interface {
	FindActive(ctx context.Context, productID, categoryID string) (*profile.RiskProfile, error)
}

// BookingSource loads booking evidence.
type BookingSource interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
}

// ViolationRecorder records and lists a booking's violations.
type ViolationRecorder interface {
	RecordAuto(ctx context.Context, rec violation.AutoRecord) (*violation.Violation, error)
	Unresolved(ctx context.Context, bookingID string) ([]*violation.Violation, error)
}

// Config controls enforcement dedupe and bulk assessment bounds.
type Config struct {
	// Dedupe skips recording a violation when the booking already has an
	// unresolved one for the same requirement.
	Dedupe              bool
	BulkMaxItems        int
	BulkWorkers         int
	AllowSlugCategories bool
}

// Service evaluates bookings and products against their risk profiles.
type Service struct {
	store      Store
	profiles   ProfileSource
	bookings   BookingSource
	violations ViolationRecorder
	cfg        Config
	events     EventEmitter
	now        func() time.Time
}

// NewService creates a compliance service.
func NewService(store Store, profiles ProfileSource, bookings BookingSource, violations ViolationRecorder, cfg Config) *Service {
	return &Service{
		store:      store,
		profiles:   profiles,
		bookings:   bookings,
		violations: violations,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithEvents attaches a live event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// RecordError is a violation that could not be recorded during enforcement.
type RecordError struct {
	Requirement string `json:"requirement"`
	Error       string `json:"error"`
}

// EnforceResult is the outcome of an enforcement run. The check and every
// violation in Violations are committed even when Errors is non-empty.
type EnforceResult struct {
	Compliance         *Check                 `json:"compliance"`
	ViolationsRecorded int                    `json:"violationsRecorded"`
	DuplicatesSkipped  int                    `json:"duplicatesSkipped"`
	Violations         []*violation.Violation `json:"violations"`
	Errors             []RecordError          `json:"errors,omitempty"`
}

// Enforce evaluates the booking, stores the check, and when the profile has
// autoEnforcement records one open violation per unmet requirement.
func (s *Service) Enforce(ctx context.Context, bookingID string) (*EnforceResult, error) {
	return s.run(ctx, bookingID, true)
}

// Check evaluates the booking and stores the check without recording
// violations.
func (s *Service) Check(ctx context.Context, bookingID string) (*Check, error) {
	res, err := s.run(ctx, bookingID, false)
	if err != nil {
		return nil, err
	}
	return res.Compliance, nil
}

func (s *Service) run(ctx context.Context, bookingID string, enforce bool) (*EnforceResult, error) {
	bookingID = strings.ToLower(strings.TrimSpace(bookingID))
	if errs := validation.Validate(
		validation.Required("bookingId", bookingID),
		validation.UUID("bookingId", bookingID),
	); len(errs) > 0 {
		return nil, errs
	}

	name := "compliance.check"
	if enforce {
		name = "compliance.enforce"
	}
	ctx, span := traces.StartSpan(ctx, name, traces.BookingID(bookingID))
	defer span.End()

	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	p, err := s.activeProfile(ctx, b.ProductID, b.CategoryID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	unresolved, err := s.violations.Unresolved(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	eval := Evaluate(p, EvidenceOf(b), now)
	c := &Check{
		ID:                  idgen.New(),
		BookingID:           b.ID,
		ProductID:           b.ProductID,
		CategoryID:          b.CategoryID,
		ProfileID:           p.ID,
		ProfileVersion:      p.Version,
		ComplianceScore:     eval.Score,
		ComplianceStatus:    eval.Status,
		Requirements:        eval.Requirements,
		MissingRequirements: eval.Missing,
		OpenInvestigations:  openInvestigations(unresolved),
		CheckedBy:           auth.Actor(ctx),
		CheckedAt:           now,
	}
	if b.StartsAt != nil {
		d := b.StartsAt.Add(-hours(p.MandatoryRequirements.ComplianceDeadlineHours))
		c.DeadlineAt = &d
	}
	if err := s.store.AppendCheck(ctx, c); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	s.observe(ctx, c)

	res := &EnforceResult{Compliance: c, Violations: []*violation.Violation{}}
	if !enforce || !p.AutoEnforcement {
		return res, nil
	}

	for _, r := range c.Requirements {
		if r.Satisfied {
			continue
		}
		rec := autoRecord(b, p, r, now)
		rec.Dedupe = s.cfg.Dedupe
		v, err := s.violations.RecordAuto(ctx, rec)
		switch {
		case errors.Is(err, violation.ErrDuplicateOpen):
			res.DuplicatesSkipped++
		case err != nil:
			traces.RecordError(span, err)
			logging.L(ctx).Error("failed to record violation",
				"booking_id", b.ID, "requirement", r.Key, "error", err)
			res.Errors = append(res.Errors, RecordError{Requirement: r.Key, Error: err.Error()})
		default:
			res.Violations = append(res.Violations, v)
		}
	}
	res.ViolationsRecorded = len(res.Violations)

	logging.L(ctx).Info("booking enforced",
		"booking_id", b.ID, "profile_id", p.ID, "score", c.ComplianceScore,
		"recorded", res.ViolationsRecorded, "skipped", res.DuplicatesSkipped, "failed", len(res.Errors))
	return res, nil
}

func (s *Service) activeProfile(ctx context.Context, productID, categoryID string) (*profile.RiskProfile, error) {
	p, err := s.profiles.FindActive(ctx, productID, categoryID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

func openInvestigations(vs []*violation.Violation) int {
	n := 0
	for _, v := range vs {
		if v.Status == violation.StatusUnderInvestigation || v.Status == violation.StatusEscalated {
			n++
		}
	}
	return n
}

func autoRecord(b *booking.Booking, p *profile.RiskProfile, r RequirementResult, now time.Time) violation.AutoRecord {
	violator := b.RenterID
	if r.Key == KeyInspection || strings.HasPrefix(r.Key, KeyInspectionTypePrefix) {
		violator = b.OwnerID
	}
	due := now.Add(hours(p.GracePeriodHours))
	return violation.AutoRecord{
		BookingID:   b.ID,
		ProductID:   b.ProductID,
		ViolatorID:  violator,
		ProfileID:   p.ID,
		Requirement: r.Key,
		Type:        r.ViolationType,
		Severity:    SeverityFor(p.RiskLevel),
		Description: r.Detail,
		DetectedAt:  now,
		DueAt:       &due,
	}
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func (s *Service) observe(ctx context.Context, c *Check) {
	metrics.ComplianceChecksTotal.WithLabelValues(string(c.ComplianceStatus)).Inc()
	metrics.ComplianceScore.Observe(c.ComplianceScore)
	if s.events != nil {
		s.events.EmitCompliance(EventChecked, c.Clone())
	}
	logging.L(ctx).Info("compliance checked",
		"check_id", c.ID, "booking_id", c.BookingID, "status", c.ComplianceStatus,
		"score", c.ComplianceScore, "missing", len(c.MissingRequirements))
}

// ListChecks returns a booking's check history, newest first.
func (s *Service) ListChecks(ctx context.Context, bookingID string) ([]*Check, error) {
	bookingID = strings.ToLower(strings.TrimSpace(bookingID))
	if errs := validation.Validate(
		validation.Required("bookingId", bookingID),
		validation.UUID("bookingId", bookingID),
	); len(errs) > 0 {
		return nil, errs
	}
	return s.store.ListChecks(ctx, bookingID)
}

// ChecksSince returns every check at or after since, oldest first.
func (s *Service) ChecksSince(ctx context.Context, since time.Time) ([]*Check, error) {
	return s.store.ChecksSince(ctx, since)
}

// EvidenceRequest is inline evidence for an assessment without a booking.
type EvidenceRequest struct {
	Insurance   *booking.InsuranceRequest   `json:"insurance"`
	Inspections []booking.InspectionRequest `json:"inspections"`
}

// AssessRequest asks for a risk assessment of a product/category pair.
// Evidence comes from the referenced booking or from the inline block.
type AssessRequest struct {
	ProductID  string           `json:"productId"`
	CategoryID string           `json:"categoryId"`
	BookingID  string           `json:"bookingId"`
	Evidence   *EvidenceRequest `json:"evidence"`
}

// Assess evaluates a product/category pair and stores the assessment.
// Without a booking or inline evidence the result is pending_review.
func (s *Service) Assess(ctx context.Context, req AssessRequest) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "compliance.assess")
	defer span.End()

	now := s.now().UTC()
	a := &Assessment{
		ID:         idgen.New(),
		ProductID:  strings.ToLower(strings.TrimSpace(req.ProductID)),
		CategoryID: strings.TrimSpace(req.CategoryID),
		BookingID:  strings.ToLower(strings.TrimSpace(req.BookingID)),
		AssessedBy: auth.Actor(ctx),
		AssessedAt: now,
	}
	if validation.IsUUID(a.CategoryID) {
		a.CategoryID = strings.ToLower(a.CategoryID)
	}

	errs := validation.Validate(
		validation.UUID("bookingId", a.BookingID),
		validation.UUID("productId", a.ProductID),
		validation.CategoryID("categoryId", a.CategoryID, s.cfg.AllowSlugCategories),
	)
	if a.BookingID == "" {
		errs = append(errs, validation.Validate(
			validation.Required("productId", a.ProductID),
			validation.Required("categoryId", a.CategoryID),
		)...)
	} else if req.Evidence != nil {
		errs.Add("evidence", "must not be combined with bookingId")
	}
	ev, everrs := s.normalizeEvidence(ctx, req.Evidence, now)
	errs = append(errs, everrs...)
	if len(errs) > 0 {
		return nil, errs
	}

	if a.BookingID != "" {
		b, err := s.bookings.Get(ctx, a.BookingID)
		if err != nil {
			return nil, err
		}
		switch {
		case a.ProductID == "":
			a.ProductID = b.ProductID
		case a.ProductID != b.ProductID:
			return nil, validation.Single("productId", "does not match the booking's product")
		}
		switch {
		case a.CategoryID == "":
			a.CategoryID = b.CategoryID
		case a.CategoryID != b.CategoryID:
			return nil, validation.Single("categoryId", "does not match the booking's category")
		}
		e := EvidenceOf(b)
		ev = &e
	}
	span.SetAttributes(traces.ProductID(a.ProductID))

	p, err := s.activeProfile(ctx, a.ProductID, a.CategoryID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	var eval Evaluation
	if ev != nil {
		eval = Evaluate(p, *ev, now)
	} else {
		eval = Evaluate(p, Evidence{}, now)
		if len(eval.Missing) > 0 {
			eval.Status = StatusPendingReview
		}
	}
	a.ProfileID = p.ID
	a.RiskLevel = p.RiskLevel
	a.ComplianceScore = eval.Score
	a.ComplianceStatus = eval.Status
	a.Requirements = eval.Requirements
	a.MissingRequirements = eval.Missing
	a.RiskFactors = append([]string{}, p.RiskFactors...)
	a.Recommendations = recommendations(p, eval)

	if err := s.store.CreateAssessment(ctx, a); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Score(a.ComplianceScore))
	logging.L(ctx).Info("risk assessed",
		"assessment_id", a.ID, "product_id", a.ProductID, "risk_level", a.RiskLevel,
		"status", a.ComplianceStatus, "score", a.ComplianceScore)
	return a, nil
}

func (s *Service) normalizeEvidence(ctx context.Context, req *EvidenceRequest, now time.Time) (*Evidence, validation.ValidationErrors) {
	if req == nil {
		return nil, nil
	}
	var errs validation.ValidationErrors
	ev := &Evidence{Inspections: []booking.Inspection{}}
	if req.Insurance != nil {
		ins, ierrs := req.Insurance.Normalize("evidence.insurance.")
		errs = append(errs, ierrs...)
		ev.Insurance = ins
	}
	for i, in := range req.Inspections {
		n, ierrs := in.Normalize(fmt.Sprintf("evidence.inspections[%d].", i), auth.Actor(ctx), now)
		errs = append(errs, ierrs...)
		ev.Inspections = append(ev.Inspections, n)
	}
	return ev, errs
}

// recommendations lists the profile's mitigation strategies followed by one
// remediation step per unmet requirement.
func recommendations(p *profile.RiskProfile, eval Evaluation) []string {
	out := append([]string{}, p.MitigationStrategies...)
	for _, r := range eval.Requirements {
		if r.Satisfied {
			continue
		}
		switch {
		case r.Key == KeyInsurance && r.ViolationType == violation.TypeExpiredCompliance:
			out = append(out, "Renew the expired insurance policy")
		case r.Key == KeyInsurance:
			out = append(out, "Attach a valid insurance policy")
		case r.Key == KeyInspection:
			out = append(out, "Record a passed inspection")
		case r.Key == KeyMinCoverage:
			out = append(out, "Raise insurance coverage to at least "+formatAmount(p.MandatoryRequirements.MinCoverage))
		default:
			out = append(out, "Record a passed "+strings.TrimPrefix(r.Key, KeyInspectionTypePrefix)+" inspection")
		}
	}
	return out
}

// AssessRaw decodes and assesses one raw JSON request.
func (s *Service) AssessRaw(ctx context.Context, raw json.RawMessage) (*Assessment, error) {
	var req AssessRequest
	if errs := decodeObject(raw, &req); len(errs) > 0 {
		return nil, errs
	}
	return s.Assess(ctx, req)
}

// GetAssessment returns a stored assessment.
func (s *Service) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	return s.store.GetAssessment(ctx, id)
}

// BulkAssessment is one successful item of a bulk assessment.
type BulkAssessment struct {
	Index      int         `json:"index"`
	Assessment *Assessment `json:"assessment"`
}

// BulkResult aggregates a bulk assessment. Successful+Failed always equals
// the number of submitted items; Results and Errors are in input order.
type BulkResult struct {
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Results    []BulkAssessment    `json:"results"`
	Errors     []profile.BulkError `json:"errors"`
}

// AssessBulk assesses every item independently.
func (s *Service) AssessBulk(ctx context.Context, items []json.RawMessage) (*BulkResult, error) {
	if limit := s.cfg.BulkMaxItems; limit > 0 && len(items) > limit {
		return nil, fmt.Errorf("%w: %d items, limit is %d", ErrTooManyItems, len(items), limit)
	}

	ctx, span := traces.StartSpan(ctx, "compliance.assess_bulk", traces.BatchSize(len(items)))
	defer span.End()

	results := bulk.Run(ctx, items, s.cfg.BulkWorkers, func(ctx context.Context, _ int, raw json.RawMessage) (*Assessment, error) {
		return s.AssessRaw(ctx, raw)
	})

	out := &BulkResult{Results: []BulkAssessment{}, Errors: []profile.BulkError{}}
	for _, r := range results {
		if r.Err != nil {
			out.Failed++
			be := profile.BulkError{Index: r.Index, Data: bulk.Echo(items[r.Index]), Error: r.Err.Error()}
			var verrs validation.ValidationErrors
			if errors.As(r.Err, &verrs) {
				be.Fields = verrs
			}
			out.Errors = append(out.Errors, be)
			continue
		}
		out.Successful++
		out.Results = append(out.Results, BulkAssessment{Index: r.Index, Assessment: r.Value})
	}
	logging.L(ctx).Info("bulk assessment finished",
		"items", len(items), "successful", out.Successful, "failed", out.Failed)
	return out, nil
}

func decodeObject(raw json.RawMessage, dst any) validation.ValidationErrors {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return validation.Single("_", "must be a JSON object")
	}
	err := json.Unmarshal([]byte(trimmed), dst)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return validation.Single(typeErr.Field, "has the wrong type")
	}
	return validation.Single("_", "must be a JSON object")
}

// Summary is the compliance rollup used by the stats endpoint.
type Summary struct {
	Checks       int            `json:"checks"`
	AverageScore float64        `json:"averageScore"`
	ByStatus     map[Status]int `json:"byStatus"`
}

// Summarize rolls up checks.
func Summarize(checks []*Check) Summary {
	s := Summary{ByStatus: make(map[Status]int)}
	var total float64
	for _, c := range checks {
		s.Checks++
		s.ByStatus[c.ComplianceStatus]++
		total += c.ComplianceScore
	}
	if s.Checks > 0 {
		s.AverageScore = math.Round(100*total/float64(s.Checks)) / 100
	}
	return s
}

// Summary rolls up every stored check.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	checks, err := s.store.ChecksSince(ctx, time.Time{})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(checks), nil
}
