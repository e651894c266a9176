// Package enforcement manages disciplinary and remedial actions taken in
// response to a violation. Actions are approved before they are executed;
// pending or approved actions may instead be rejected or cancelled.
package enforcement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/pagination"
)

// ActionType is the kind of measure taken against a user.
type ActionType string

const (
	TypeWarning          ActionType = "warning"
	TypePenalty          ActionType = "penalty"
	TypeSuspension       ActionType = "suspension"
	TypeTermination      ActionType = "termination"
	TypeTrainingRequired ActionType = "training_required"
	TypeAuditRequired    ActionType = "audit_required"
)

// ActionTypes lists every action type.
var ActionTypes = []ActionType{TypeWarning, TypePenalty, TypeSuspension, TypeTermination, TypeTrainingRequired, TypeAuditRequired}

// Status is an action's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuted  Status = "executed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status.
var Statuses = []Status{StatusPending, StatusApproved, StatusExecuted, StatusRejected, StatusCancelled}

// IsTerminal reports whether the action can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusRejected || s == StatusCancelled
}

// Operation is a lifecycle operation.
type Operation string

const (
	OpApprove Operation = "approve"
	OpExecute Operation = "execute"
	OpReject  Operation = "reject"
	OpCancel  Operation = "cancel"
)

var transitions = map[Operation]struct {
	from []Status
	to   Status
}{
	OpApprove: {[]Status{StatusPending}, StatusApproved},
	OpExecute: {[]Status{StatusApproved}, StatusExecuted},
	OpReject:  {[]Status{StatusPending, StatusApproved}, StatusRejected},
	OpCancel:  {[]Status{StatusPending, StatusApproved}, StatusCancelled},
}

// Next returns the status op leads to from s.
func Next(s Status, op Operation) (Status, bool) {
	t, ok := transitions[op]
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

// Errors
var (
	ErrNotFound      = apierr.New(apierr.ErrNotFound, "enforcement action not found")
	ErrStatusChanged = apierr.New(apierr.ErrConflict, "enforcement action status changed concurrently")

	ErrViolationNotFound = apierr.New(apierr.ErrNotFound, "violation not found")
)

// Impact describes the expected consequences of an action.
type Impact struct {
	FinancialImpact    decimal.Decimal `json:"financialImpact"`
	OperationalImpact  string          `json:"operationalImpact"`
	ReputationalImpact string          `json:"reputationalImpact"`
	ComplianceImpact   string          `json:"complianceImpact"`
	RiskMitigation     string          `json:"riskMitigation"`
}

// Action is an enforcement action against a user for a violation.
type Action struct {
	ID             string     `json:"id"`
	ViolationID    string     `json:"violationId"`
	TargetUserID   string     `json:"targetUserId"`
	ActionType     ActionType `json:"actionType"`
	Status         Status     `json:"status"`
	Reason         string     `json:"reason"`
	Impact         Impact     `json:"impact"`
	RequestedBy    string     `json:"requestedBy"`
	ApprovedBy     string     `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	ExecutedBy     string     `json:"executedBy,omitempty"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`
	ExecutionNotes string     `json:"executionNotes,omitempty"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a *Action) Clone() *Action {
	cp := *a
	if a.ApprovedAt != nil {
		t := *a.ApprovedAt
		cp.ApprovedAt = &t
	}
	if a.ExecutedAt != nil {
		t := *a.ExecutedAt
		cp.ExecutedAt = &t
	}
	return &cp
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	Statuses     []Status
	ActionTypes  []ActionType
	ViolationID  string
	TargetUserID string
}

// Matches reports whether a passes every set filter.
func (f Filter) Matches(a *Action) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, a.Status) {
		return false
	}
	if len(f.ActionTypes) > 0 && !contains(f.ActionTypes, a.ActionType) {
		return false
	}
	if f.ViolationID != "" && a.ViolationID != f.ViolationID {
		return false
	}
	if f.TargetUserID != "" && a.TargetUserID != f.TargetUserID {
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

// Store persists enforcement actions.
type Store interface {
	Create(ctx context.Context, a *Action) error
	Get(ctx context.Context, id string) (*Action, error)
	// Update writes a only if the stored status still equals from, else
	// ErrStatusChanged.
	Update(ctx context.Context, a *Action, from Status) error
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Action, int, error)
	All(ctx context.Context) ([]*Action, error)
}
