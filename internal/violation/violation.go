// Package violation records breaches of compliance requirements and drives
// their lifecycle:
//
//	open -> in_progress -> under_investigation -> resolved -> closed
//
// Any non-terminal violation may be escalated; an escalated violation can be
// re-assigned or resolved. resolved and closed are terminal for escalation,
// and nothing leaves closed.
package violation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/pagination"
)

// Type classifies what was breached.
type Type string

const (
	TypeMissingInsurance   Type = "missing_insurance"
	TypeMissingInspection  Type = "missing_inspection"
	TypeInadequateCoverage Type = "inadequate_coverage"
	TypeExpiredCompliance  Type = "expired_compliance"
	TypeSafety             Type = "safety_violation"
	TypeCompliance         Type = "compliance_violation"
	TypeQuality            Type = "quality_violation"
	TypeProcedural         Type = "procedural_violation"
	TypeDocumentation      Type = "documentation_violation"
)

// Types lists every violation type.
var Types = []Type{
	TypeMissingInsurance, TypeMissingInspection, TypeInadequateCoverage, TypeExpiredCompliance,
	TypeSafety, TypeCompliance, TypeQuality, TypeProcedural, TypeDocumentation,
}

// Severity grades a violation.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Severities lists every canonical severity, lowest first.
var Severities = []Severity{SeverityMinor, SeverityModerate, SeverityMajor, SeverityCritical}

var severityAliases = map[string]Severity{
	"minor": SeverityMinor, "low": SeverityMinor,
	"moderate": SeverityModerate, "medium": SeverityModerate,
	"major": SeverityMajor, "high": SeverityMajor,
	"critical": SeverityCritical,
}

// ParseSeverity accepts a canonical severity or its low/medium/high alias.
func ParseSeverity(s string) (Severity, bool) {
	sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]
	return sev, ok
}

// Status is a lifecycle state.
type Status string

const (
	StatusOpen               Status = "open"
	StatusInProgress         Status = "in_progress"
	StatusUnderInvestigation Status = "under_investigation"
	StatusResolved           Status = "resolved"
	StatusClosed             Status = "closed"
	StatusEscalated          Status = "escalated"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusUnderInvestigation, StatusResolved, StatusClosed, StatusEscalated}

// IsTerminal reports whether no escalation or rework is possible.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Action is a lifecycle operation.
type Action string

const (
	ActionAssign      Action = "assign"
	ActionInvestigate Action = "investigate"
	ActionResolve     Action = "resolve"
	ActionEscalate    Action = "escalate"
	ActionClose       Action = "close"
)

var transitions = map[Action]struct {
	from []Status
	to   Status
}{
	ActionAssign:      {[]Status{StatusOpen, StatusInProgress, StatusEscalated}, StatusInProgress},
	ActionInvestigate: {[]Status{StatusInProgress}, StatusUnderInvestigation},
	ActionResolve:     {[]Status{StatusInProgress, StatusUnderInvestigation, StatusEscalated}, StatusResolved},
	ActionEscalate:    {[]Status{StatusOpen, StatusInProgress, StatusUnderInvestigation}, StatusEscalated},
	ActionClose:       {[]Status{StatusResolved}, StatusClosed},
}

// Next returns the status action leads to from s.
func Next(s Status, a Action) (Status, bool) {
	t, ok := transitions[a]
	if !ok {
		return "", false
	}
	for _, from := range t.from {
		if from == s {
			return t.to, true
		}
	}
	return "", false
}

// Source tells how a violation was recorded.
type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

// Errors
var (
	ErrNotFound      = apierr.New(apierr.ErrNotFound, "violation not found")
	ErrStatusChanged = apierr.New(apierr.ErrConflict, "violation status changed concurrently")
	ErrDuplicateOpen = apierr.New(apierr.ErrConflict, "booking already has an unresolved violation for this requirement")
)

// Violation is a recorded breach of a compliance requirement.
type Violation struct {
	ID                string           `json:"id"`
	BookingID         string           `json:"bookingId,omitempty"`
	ProductID         string           `json:"productId,omitempty"`
	ViolatorID        string           `json:"violatorId"`
	ProfileID         string           `json:"profileId,omitempty"`
	Requirement       string           `json:"requirement,omitempty"`
	Type              Type             `json:"violationType"`
	Severity          Severity         `json:"severity"`
	Status            Status           `json:"status"`
	Source            Source           `json:"source"`
	Description       string           `json:"description"`
	PenaltyAmount     *decimal.Decimal `json:"penaltyAmount,omitempty"`
	ResolutionActions []string         `json:"resolutionActions"`
	ResolutionNotes   string           `json:"resolutionNotes,omitempty"`
	EscalationReason  string           `json:"escalationReason,omitempty"`
	AssignedTo        string           `json:"assignedTo,omitempty"`
	ReportedBy        string           `json:"reportedBy"`
	DetectedAt        time.Time        `json:"detectedAt"`
	DueAt             *time.Time       `json:"dueAt,omitempty"`
	ResolvedAt        *time.Time       `json:"resolvedAt,omitempty"`
	ClosedAt          *time.Time       `json:"closedAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy.
func (v *Violation) Clone() *Violation {
	cp := *v
	if v.PenaltyAmount != nil {
		p := *v.PenaltyAmount
		cp.PenaltyAmount = &p
	}
	cp.ResolutionActions = make([]string, len(v.ResolutionActions))
	copy(cp.ResolutionActions, v.ResolutionActions)
	cp.DueAt = cloneTime(v.DueAt)
	cp.ResolvedAt = cloneTime(v.ResolvedAt)
	cp.ClosedAt = cloneTime(v.ClosedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Filter narrows List results. Zero fields do not filter; list fields match
// any of their values.
type Filter struct {
	Statuses   []Status
	Severities []Severity
	Types      []Type
	BookingID  string
	ProductID  string
	ViolatorID string
}

// Matches reports whether v passes every set filter.
func (f Filter) Matches(v *Violation) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, v.Status) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, v.Severity) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, v.Type) {
		return false
	}
	if f.BookingID != "" && v.BookingID != f.BookingID {
		return false
	}
	if f.ProductID != "" && v.ProductID != f.ProductID {
		return false
	}
	if f.ViolatorID != "" && v.ViolatorID != f.ViolatorID {
		return false
	}
	return true
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Store persists violations.
type Store interface {
	Create(ctx context.Context, v *Violation) error
	// CreateUnlessOpen stores v unless the booking already has a violation
	// for v.Requirement that is not resolved or closed, in which case it
	// returns ErrDuplicateOpen. The check and insert are atomic.
	CreateUnlessOpen(ctx context.Context, v *Violation) error
	Get(ctx context.Context, id string) (*Violation, error)
	// Update writes v only if the stored status still equals from, else
	// ErrStatusChanged.
	Update(ctx context.Context, v *Violation, from Status) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Violation, int, error)
	// Unresolved returns the booking's violations that are not resolved or
	// closed.
	Unresolved(ctx context.Context, bookingID string) ([]*Violation, error)
	All(ctx context.Context) ([]*Violation, error)
}
