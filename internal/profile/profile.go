// Package profile manages risk profiles: the compliance requirements that
// apply to a (product, category) pair.
//
// At most one active profile exists per pair. Every create, update and delete
// appends an audit entry so removed profiles keep a history.
package profile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/pagination"
)

// RiskLevel classifies how risky renting a product is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels lists every risk level, lowest first.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// EnforcementLevel controls how strictly requirements are enforced.
type EnforcementLevel string

const (
	EnforcementLenient    EnforcementLevel = "lenient"
	EnforcementModerate   EnforcementLevel = "moderate"
	EnforcementStrict     EnforcementLevel = "strict"
	EnforcementVeryStrict EnforcementLevel = "very_strict"
)

// EnforcementLevels lists every enforcement level.
var EnforcementLevels = []EnforcementLevel{EnforcementLenient, EnforcementModerate, EnforcementStrict, EnforcementVeryStrict}

// Defaults applied when a submission omits the field.
const (
	DefaultEnforcementLevel        = EnforcementModerate
	DefaultGracePeriodHours        = 24
	DefaultComplianceDeadlineHours = 24
)

// Errors
var (
	ErrNotFound        = apierr.New(apierr.ErrNotFound, "risk profile not found")
	ErrDuplicateActive = apierr.New(apierr.ErrConflict, "an active risk profile already exists for this product and category")
	ErrVersionConflict = apierr.New(apierr.ErrConflict, "risk profile version mismatch")
	ErrTooManyItems    = apierr.New(apierr.ErrBadRequest, "too many items in bulk request")
)

// Requirements is the mandatory-requirements checklist of a profile.
type Requirements struct {
	Insurance               bool     `json:"insurance"`
	Inspection              bool     `json:"inspection"`
	MinCoverage             float64  `json:"minCoverage"`
	InspectionTypes         []string `json:"inspectionTypes"`
	ComplianceDeadlineHours float64  `json:"complianceDeadlineHours"`
}

// RiskProfile is the compliance policy for one product/category pair.
type RiskProfile struct {
	ID                    string           `json:"id"`
	ProductID             string           `json:"productId"`
	CategoryID            string           `json:"categoryId"`
	RiskLevel             RiskLevel        `json:"riskLevel"`
	MandatoryRequirements Requirements     `json:"mandatoryRequirements"`
	RiskFactors           []string         `json:"riskFactors"`
	MitigationStrategies  []string         `json:"mitigationStrategies"`
	EnforcementLevel      EnforcementLevel `json:"enforcementLevel"`
	AutoEnforcement       bool             `json:"autoEnforcement"`
	GracePeriodHours      float64          `json:"gracePeriodHours"`
	IsActive              bool             `json:"isActive"`
	Version               int              `json:"version"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
	CreatedBy             string           `json:"createdBy"`
	UpdatedBy             string           `json:"updatedBy"`
}

// Clone returns a deep copy.
func (p *RiskProfile) Clone() *RiskProfile {
	cp := *p
	cp.MandatoryRequirements.InspectionTypes = cloneStrings(p.MandatoryRequirements.InspectionTypes)
	cp.RiskFactors = cloneStrings(p.RiskFactors)
	cp.MitigationStrategies = cloneStrings(p.MitigationStrategies)
	return &cp
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// AuditAction names what happened to a profile.
type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry is an immutable record of one profile mutation.
type AuditEntry struct {
	ID        string          `json:"id"`
	ProfileID string          `json:"profileId"`
	Action    AuditAction     `json:"action"`
	Version   int             `json:"version"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Actor     string          `json:"actor"`
	At        time.Time       `json:"at"`
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	ProductID   string
	CategoryID  string
	RiskLevels  []RiskLevel
	IsActive    *bool
	CreatedBy   string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Search      string
}

// Matches reports whether p passes every set filter.
func (f Filter) Matches(p *RiskProfile) bool {
	if f.ProductID != "" && p.ProductID != f.ProductID {
		return false
	}
	if f.CategoryID != "" && p.CategoryID != f.CategoryID {
		return false
	}
	if len(f.RiskLevels) > 0 {
		found := false
		for _, l := range f.RiskLevels {
			if p.RiskLevel == l {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IsActive != nil && p.IsActive != *f.IsActive {
		return false
	}
	if f.CreatedBy != "" && p.CreatedBy != f.CreatedBy {
		return false
	}
	if !f.CreatedFrom.IsZero() && p.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && p.CreatedAt.After(f.CreatedTo) {
		return false
	}
	if f.Search != "" && !matchesSearch(p, strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func matchesSearch(p *RiskProfile, q string) bool {
	fields := []string{p.ProductID, p.CategoryID, string(p.RiskLevel)}
	fields = append(fields, p.RiskFactors...)
	fields = append(fields, p.MitigationStrategies...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Summary is the profile rollup used by the stats endpoint.
type Summary struct {
	Total              int                      `json:"total"`
	Active             int                      `json:"active"`
	AutoEnforced       int                      `json:"autoEnforced"`
	ByRiskLevel        map[RiskLevel]int        `json:"byRiskLevel"`
	ByEnforcementLevel map[EnforcementLevel]int `json:"byEnforcementLevel"`
}

// Summarize rolls up profiles.
func Summarize(profiles []*RiskProfile) Summary {
	s := Summary{
		ByRiskLevel:        make(map[RiskLevel]int),
		ByEnforcementLevel: make(map[EnforcementLevel]int),
	}
	for _, p := range profiles {
		s.Total++
		if p.IsActive {
			s.Active++
		}
		if p.AutoEnforcement {
			s.AutoEnforced++
		}
		s.ByRiskLevel[p.RiskLevel]++
		s.ByEnforcementLevel[p.EnforcementLevel]++
	}
	return s
}

// Store persists risk profiles and their audit trail. Mutations write the
// audit entry atomically with the change.
type Store interface {
	Create(ctx context.Context, p *RiskProfile, audit *AuditEntry) error
	Get(ctx context.Context, id string) (*RiskProfile, error)
	FindActive(ctx context.Context, productID, categoryID string) (*RiskProfile, error)
	ListByProduct(ctx context.Context, productID string) ([]*RiskProfile, error)
	List(ctx context.Context, f Filter, page pagination.Params) ([]*RiskProfile, int, error)
	All(ctx context.Context) ([]*RiskProfile, error)
	// Update replaces p if the stored version equals expectedVersion.
	Update(ctx context.Context, p *RiskProfile, expectedVersion int, audit *AuditEntry) error
	Delete(ctx context.Context, id string, audit *AuditEntry) error
	ListAudit(ctx context.Context, profileID string) ([]*AuditEntry, error)
}
