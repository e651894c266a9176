package enforcement

import (
	"context"
	"errors"
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
	"github.com/rentwise/riskd/internal/violation"
)

const maxTextLength = 2000

// EventUpdated is emitted when an action is created or changes status.
const EventUpdated = "enforcement_updated"

// EventEmitter receives enforcement changes for live subscribers.
type EventEmitter interface {
	EmitEnforcement(event string, a *Action)
}

// ViolationLookup resolves the violation an action is taken for.
type ViolationLookup interface {
	Get(ctx context.Context, id string) (*violation.Violation, error)
}

// ImpactRequest is the impact block of a create request.
type ImpactRequest struct {
	FinancialImpact    *decimal.Decimal `json:"financialImpact"`
	OperationalImpact  string           `json:"operationalImpact"`
	ReputationalImpact string           `json:"reputationalImpact"`
	ComplianceImpact   string           `json:"complianceImpact"`
	RiskMitigation     string           `json:"riskMitigation"`
}

// CreateRequest proposes an enforcement action.
type CreateRequest struct {
	ViolationID  string        `json:"violationId"`
	TargetUserID string        `json:"targetUserId"`
	ActionType   string        `json:"actionType"`
	Reason       string        `json:"reason"`
	Impact       ImpactRequest `json:"impact"`
}

// Service implements enforcement actions and their lifecycle.
type Service struct {
	store      Store
	violations ViolationLookup
	events     EventEmitter
	now        func() time.Time
}

// NewService creates an enforcement service.
func NewService(store Store, violations ViolationLookup) *Service {
	return &Service{store: store, violations: violations, now: time.Now}
}

// WithEvents attaches a live event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Create proposes an action against an existing violation. The target
// defaults to the violator.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Action, error) {
	now := s.now().UTC()
	a := &Action{
		ID:           idgen.New(),
		ViolationID:  strings.ToLower(strings.TrimSpace(req.ViolationID)),
		TargetUserID: strings.TrimSpace(req.TargetUserID),
		ActionType:   ActionType(strings.ToLower(strings.TrimSpace(req.ActionType))),
		Status:       StatusPending,
		Reason:       text(req.Reason),
		Impact: Impact{
			OperationalImpact:  text(req.Impact.OperationalImpact),
			ReputationalImpact: text(req.Impact.ReputationalImpact),
			ComplianceImpact:   text(req.Impact.ComplianceImpact),
			RiskMitigation:     text(req.Impact.RiskMitigation),
		},
		RequestedBy: auth.Actor(ctx),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	errs := validation.Validate(
		validation.Required("violationId", a.ViolationID),
		validation.UUID("violationId", a.ViolationID),
		validation.Required("actionType", string(a.ActionType)),
		validation.OneOf("actionType", string(a.ActionType), toStrings(ActionTypes)...),
		validation.MaxLength("targetUserId", a.TargetUserID, 128),
	)
	if fi := req.Impact.FinancialImpact; fi != nil {
		if fi.IsNegative() {
			errs.Add("impact.financialImpact", "must be greater than or equal to 0")
		} else {
			a.Impact.FinancialImpact = fi.Round(2)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	v, err := s.violations.Get(ctx, a.ViolationID)
	if err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return nil, ErrViolationNotFound
		}
		return nil, err
	}
	if a.TargetUserID == "" {
		a.TargetUserID = v.ViolatorID
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	metrics.EnforcementTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emit(a)
	logging.L(ctx).Info("enforcement action proposed",
		"action_id", a.ID, "violation_id", a.ViolationID, "type", a.ActionType, "target", a.TargetUserID)
	return a, nil
}

// Get returns an action by ID.
func (s *Service) Get(ctx context.Context, id string) (*Action, error) {
	return s.store.Get(ctx, id)
}

// Page is one page of List results.
type Page struct {
	Actions []*Action `json:"actions"`
	pagination.Meta
}

// List returns actions matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter, p pagination.Params) (*Page, error) {
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Action{}
	}
	return &Page{Actions: items, Meta: pagination.NewMeta(p, total)}, nil
}

// Approve approves a pending action. Only admins may approve.
func (s *Service) Approve(ctx context.Context, id string) (*Action, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, OpApprove, func(a *Action, actor string, now time.Time) {
		a.ApprovedBy = actor
		a.ApprovedAt = &now
	})
}

// Execute carries out an approved action. Only admins may execute.
func (s *Service) Execute(ctx context.Context, id, notes string) (*Action, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	notes = text(notes)
	return s.transition(ctx, id, OpExecute, func(a *Action, actor string, now time.Time) {
		a.ExecutedBy = actor
		a.ExecutedAt = &now
		a.ExecutionNotes = notes
	})
}

// Reject declines a pending or approved action.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Action, error) {
	return s.decide(ctx, id, OpReject, reason)
}

// Cancel withdraws a pending or approved action.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Action, error) {
	return s.decide(ctx, id, OpCancel, reason)
}

func (s *Service) decide(ctx context.Context, id string, op Operation, reason string) (*Action, error) {
	reason = text(reason)
	return s.transition(ctx, id, op, func(a *Action, actor string, _ time.Time) {
		a.DecidedBy = actor
		a.DecisionReason = reason
	})
}

func requireAdmin(ctx context.Context) error {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.ErrNoToken
	}
	if !p.HasRole(auth.Admins...) {
		return auth.ErrRole
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id string, op Operation, mutate func(a *Action, actor string, now time.Time)) (*Action, error) {
	ctx, span := traces.StartSpan(ctx, "enforcement."+string(op))
	defer span.End()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	to, ok := Next(from, op)
	if !ok {
		err := &apierr.TransitionError{Entity: "enforcement action", ID: id, From: string(from), Action: string(op)}
		traces.RecordError(span, err)
		return nil, err
	}

	now := s.now().UTC()
	mutate(a, auth.Actor(ctx), now)
	a.Status = to
	a.UpdatedAt = now

	if err := s.store.Update(ctx, a, from); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	metrics.EnforcementTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.emit(a)
	logging.L(ctx).Info("enforcement action transitioned", "action_id", id, "op", op, "from", from, "to", to)
	return a, nil
}

func (s *Service) emit(a *Action) {
	if s.events != nil {
		s.events.EmitEnforcement(EventUpdated, a.Clone())
	}
}

func text(s string) string {
	return validation.SanitizeString(strings.TrimSpace(s), maxTextLength)
}

// Summary is the enforcement rollup used by the stats endpoint.
type Summary struct {
	Total             int                `json:"total"`
	ByStatus          map[Status]int     `json:"byStatus"`
	ByActionType      map[ActionType]int `json:"byActionType"`
	ExecutedFinancial decimal.Decimal    `json:"executedFinancialImpact"`
}

// Summarize rolls up actions.
func Summarize(as []*Action) Summary {
	s := Summary{
		ByStatus:     make(map[Status]int),
		ByActionType: make(map[ActionType]int),
	}
	for _, a := range as {
		s.Total++
		s.ByStatus[a.Status]++
		s.ByActionType[a.ActionType]++
		if a.Status == StatusExecuted {
			s.ExecutedFinancial = s.ExecutedFinancial.Add(a.Impact.FinancialImpact)
		}
	}
	return s
}

// Summary rolls up every stored action.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all), nil
}
