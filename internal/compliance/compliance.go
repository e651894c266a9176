// Package compliance evaluates bookings against the risk profile of their
// product and category, records the point-in-time result, and optionally
// records a violation for every unmet requirement.
package compliance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/booking"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/violation"
)

// Status is the outcome of an evaluation.
type Status string

const (
	StatusCompliant          Status = "compliant"
	StatusNonCompliant       Status = "non_compliant"
	StatusPartiallyCompliant Status = "partially_compliant"
	StatusPendingReview      Status = "pending_review"
)

// Statuses lists every status.
var Statuses = []Status{StatusCompliant, StatusNonCompliant, StatusPartiallyCompliant, StatusPendingReview}

// Requirement keys.
const (
	KeyInsurance            = "insurance"
	KeyInspection           = "inspection"
	KeyMinCoverage          = "minCoverage"
	KeyInspectionTypePrefix = "inspectionType:"
)

// Errors
var (
	ErrProfileNotFound    = apierr.New(apierr.ErrNotFound, "no active risk profile for this product and category")
	ErrAssessmentNotFound = apierr.New(apierr.ErrNotFound, "risk assessment not found")
	ErrTooManyItems       = apierr.New(apierr.ErrBadRequest, "too many items in bulk request")
)

// RequirementResult is the outcome for one mandatory requirement.
// ViolationType is set when the requirement is unmet.
type RequirementResult struct {
	Key           string         `json:"key"`
	Satisfied     bool           `json:"satisfied"`
	Detail        string         `json:"detail"`
	ViolationType violation.Type `json:"violationType,omitempty"`
}

// Evidence is what a booking can show against the requirements.
type Evidence struct {
	Insurance   *booking.Insurance
	Inspections []booking.Inspection
}

// EvidenceOf extracts the evidence attached to a booking.
func EvidenceOf(b *booking.Booking) Evidence {
	return Evidence{Insurance: b.Insurance, Inspections: b.Inspections}
}

func (e Evidence) passed(inspectionType string) bool {
	b := booking.Booking{Inspections: e.Inspections}
	return b.PassedInspection(inspectionType)
}

// Evaluation is the pure result of checking evidence against a profile.
type Evaluation struct {
	Requirements []RequirementResult
	Missing      []string
	Score        float64
	Status       Status
}

// Evaluate checks ev against the mandatory requirements of p at instant at.
// The score is the satisfied share of requirements, 100 when there are none.
func Evaluate(p *profile.RiskProfile, ev Evidence, at time.Time) Evaluation {
	req := p.MandatoryRequirements
	var results []RequirementResult

	ins := ev.Insurance
	insValid := ins != nil && ins.ValidAt(at)

	if req.Insurance {
		r := RequirementResult{Key: KeyInsurance, Satisfied: insValid}
		switch {
		case insValid:
			r.Detail = "insurance on file with " + ins.Provider
		case ins != nil:
			r.Detail = "insurance expired at " + ins.ValidUntil.UTC().Format(time.RFC3339)
			r.ViolationType = violation.TypeExpiredCompliance
		default:
			r.Detail = "no insurance on file"
			r.ViolationType = violation.TypeMissingInsurance
		}
		results = append(results, r)
	}

	if req.Inspection {
		r := RequirementResult{Key: KeyInspection, Satisfied: ev.passed("")}
		switch {
		case r.Satisfied:
			r.Detail = "passed inspection on file"
		case len(ev.Inspections) > 0:
			r.Detail = "no inspection has passed"
			r.ViolationType = violation.TypeMissingInspection
		default:
			r.Detail = "no inspection on file"
			r.ViolationType = violation.TypeMissingInspection
		}
		results = append(results, r)
	}

	if req.MinCoverage > 0 {
		r := RequirementResult{Key: KeyMinCoverage}
		min := formatAmount(req.MinCoverage)
		switch {
		case ins == nil:
			r.Detail = "no insurance on file, minimum coverage is " + min
		case !insValid:
			r.Detail = "insurance expired, minimum coverage is " + min
		case ins.Coverage.LessThan(decimal.NewFromFloat(req.MinCoverage)):
			r.Detail = fmt.Sprintf("coverage %s is below the minimum %s", ins.Coverage.String(), min)
		default:
			r.Satisfied = true
			r.Detail = fmt.Sprintf("coverage %s meets the minimum %s", ins.Coverage.String(), min)
		}
		if !r.Satisfied {
			r.ViolationType = violation.TypeInadequateCoverage
		}
		results = append(results, r)
	}

	for _, t := range req.InspectionTypes {
		r := RequirementResult{Key: KeyInspectionTypePrefix + t, Satisfied: ev.passed(t)}
		if r.Satisfied {
			r.Detail = "passed " + t + " inspection on file"
		} else {
			r.Detail = "no passed " + t + " inspection"
			r.ViolationType = violation.TypeMissingInspection
		}
		results = append(results, r)
	}

	out := Evaluation{Requirements: results, Missing: []string{}}
	if results == nil {
		out.Requirements = []RequirementResult{}
	}
	satisfied := 0
	for _, r := range results {
		if r.Satisfied {
			satisfied++
		} else {
			out.Missing = append(out.Missing, r.Key)
		}
	}
	out.Score = Score(satisfied, len(results))
	out.Status = StatusFor(out.Score)
	return out
}

// Score is 100 x satisfied/total rounded to two decimals, 100 for total 0.
func Score(satisfied, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(10000*float64(satisfied)/float64(total)) / 100
}

// StatusFor maps a score onto a compliance status.
func StatusFor(score float64) Status {
	switch {
	case score >= 100:
		return StatusCompliant
	case score <= 0:
		return StatusNonCompliant
	default:
		return StatusPartiallyCompliant
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// SeverityFor maps a profile risk level onto the severity of violations
// recorded against it.
func SeverityFor(level profile.RiskLevel) violation.Severity {
	switch level {
	case profile.RiskLow:
		return violation.SeverityMinor
	case profile.RiskHigh:
		return violation.SeverityMajor
	case profile.RiskCritical:
		return violation.SeverityCritical
	default:
		return violation.SeverityModerate
	}
}

// Check is an immutable compliance evaluation of one booking. A newer check
// of the same booking names the one it supersedes. OpenInvestigations counts
// the booking's escalated or under-investigation violations at check time;
// the status comes from the score alone.
type Check struct {
	ID                  string              `json:"id"`
	BookingID           string              `json:"bookingId"`
	ProductID           string              `json:"productId"`
	CategoryID          string              `json:"categoryId"`
	ProfileID           string              `json:"profileId"`
	ProfileVersion      int                 `json:"profileVersion"`
	ComplianceScore     float64             `json:"complianceScore"`
	ComplianceStatus    Status              `json:"complianceStatus"`
	Requirements        []RequirementResult `json:"requirements"`
	MissingRequirements []string            `json:"missingRequirements"`
	OpenInvestigations  int                 `json:"openInvestigations"`
	DeadlineAt          *time.Time          `json:"deadlineAt,omitempty"`
	SupersedesID        string              `json:"supersedesId,omitempty"`
	CheckedBy           string              `json:"checkedBy"`
	CheckedAt           time.Time           `json:"checkedAt"`
}

// Clone returns a deep copy.
func (c *Check) Clone() *Check {
	cp := *c
	cp.Requirements = cloneSlice(c.Requirements)
	cp.MissingRequirements = cloneSlice(c.MissingRequirements)
	if c.DeadlineAt != nil {
		t := *c.DeadlineAt
		cp.DeadlineAt = &t
	}
	return &cp
}

// Assessment is a risk assessment of a product/category pair, optionally
// for a specific booking.
type Assessment struct {
	ID                  string              `json:"id"`
	ProductID           string              `json:"productId"`
	CategoryID          string              `json:"categoryId"`
	BookingID           string              `json:"bookingId,omitempty"`
	ProfileID           string              `json:"profileId"`
	RiskLevel           profile.RiskLevel   `json:"riskLevel"`
	ComplianceScore     float64             `json:"complianceScore"`
	ComplianceStatus    Status              `json:"complianceStatus"`
	Requirements        []RequirementResult `json:"requirements"`
	MissingRequirements []string            `json:"missingRequirements"`
	RiskFactors         []string            `json:"riskFactors"`
	Recommendations     []string            `json:"recommendations"`
	AssessedBy          string              `json:"assessedBy"`
	AssessedAt          time.Time           `json:"assessedAt"`
}

// Clone returns a deep copy.
func (a *Assessment) Clone() *Assessment {
	cp := *a
	cp.Requirements = cloneSlice(a.Requirements)
	cp.MissingRequirements = cloneSlice(a.MissingRequirements)
	cp.RiskFactors = cloneSlice(a.RiskFactors)
	cp.Recommendations = cloneSlice(a.Recommendations)
	return &cp
}

func cloneSlice[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Store persists checks and assessments. Both are append-only.
type Store interface {
	// AppendCheck stores c, setting c.SupersedesID to the booking's
	// previous latest check atomically.
	AppendCheck(ctx context.Context, c *Check) error
	// ListChecks returns a booking's checks, newest first.
	ListChecks(ctx context.Context, bookingID string) ([]*Check, error)
	// ChecksSince returns every check at or after since.
	ChecksSince(ctx context.Context, since time.Time) ([]*Check, error)
	CreateAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
}
