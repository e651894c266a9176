package enforcement

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/validation"
	"github.com/rentwise/riskd/internal/violation"
)

const missingViolation = "2c5ea4c0-4067-41d2-a1a5-1e0f3f3c9b8e"

type recordingEmitter struct {
	events []Status
}

func (r *recordingEmitter) EmitEnforcement(_ string, a *Action) {
	r.events = append(r.events, a.Status)
}

type fixture struct {
	svc         *Service
	violationID string
	events      *recordingEmitter
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	violations := violation.NewService(violation.NewMemoryStore(), nil)
	v, err := violations.RecordAuto(context.Background(), violation.AutoRecord{
		ProductID: "550e8400-e29b-41d4-a716-446655440000", ViolatorID: "renter-1",
		Type: violation.TypeMissingInsurance, Severity: violation.SeverityMajor,
	})
	require.NoError(t, err)
	em := &recordingEmitter{}
	return fixture{svc: NewService(NewMemoryStore(), violations).WithEvents(em), violationID: v.ID, events: em}
}

func ctxAs(role auth.Role) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u-" + string(role), Role: role})
}

func TestNext(t *testing.T) {
	tests := []struct {
		from Status
		op   Operation
		to   Status
		ok   bool
	}{
		{StatusPending, OpApprove, StatusApproved, true},
		{StatusApproved, OpApprove, "", false},
		{StatusPending, OpExecute, "", false},
		{StatusApproved, OpExecute, StatusExecuted, true},
		{StatusPending, OpReject, StatusRejected, true},
		{StatusApproved, OpReject, StatusRejected, true},
		{StatusApproved, OpCancel, StatusCancelled, true},
		{StatusExecuted, OpCancel, "", false},
		{StatusRejected, OpApprove, "", false},
		{StatusCancelled, OpExecute, "", false},
	}
	for _, tt := range tests {
		to, ok := Next(tt.from, tt.op)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.from, tt.op)
		assert.Equal(t, tt.to, to, "%s/%s", tt.from, tt.op)
	}
}

func TestCreate_DefaultsTargetToViolator(t *testing.T) {
	f := newFixture(t)
	fi := decimal.RequireFromString("250")

	a, err := f.svc.Create(ctxAs(auth.RoleInspector), CreateRequest{
		ViolationID: f.violationID, ActionType: "Penalty", Reason: "no insurance",
		Impact: ImpactRequest{FinancialImpact: &fi, OperationalImpact: "listing paused"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, TypePenalty, a.ActionType)
	assert.Equal(t, "renter-1", a.TargetUserID)
	assert.Equal(t, "u-INSPECTOR", a.RequestedBy)
	assert.True(t, a.Impact.FinancialImpact.Equal(fi))
	assert.Equal(t, []Status{StatusPending}, f.events.events)
}

func TestCreate_RequiresExistingViolation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(ctxAs(auth.RoleAdmin), CreateRequest{ViolationID: missingViolation, ActionType: "warning"})
	assert.ErrorIs(t, err, ErrViolationNotFound)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	neg := decimal.NewFromInt(-1)
	_, err := f.svc.Create(ctxAs(auth.RoleAdmin), CreateRequest{
		ViolationID: "x", ActionType: "fine", Impact: ImpactRequest{FinancialImpact: &neg},
	})
	var errs validation.ValidationErrors
	require.ErrorAs(t, err, &errs)
	fields := errs.Fields()
	assert.Contains(t, fields, "violationId")
	assert.Contains(t, fields, "actionType")
	assert.Contains(t, fields, "impact.financialImpact")
}

func TestExecute_BeforeApproveIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	admin := ctxAs(auth.RoleAdmin)
	a, err := f.svc.Create(admin, CreateRequest{ViolationID: f.violationID, ActionType: "suspension"})
	require.NoError(t, err)

	_, err = f.svc.Execute(admin, a.ID, "too early")
	assert.ErrorIs(t, err, apierr.ErrInvalidTransition)

	got, err := f.svc.Get(admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestApproveThenExecute(t *testing.T) {
	f := newFixture(t)
	admin := ctxAs(auth.RoleSuperAdmin)
	a, err := f.svc.Create(ctxAs(auth.RoleInspector), CreateRequest{ViolationID: f.violationID, ActionType: "warning"})
	require.NoError(t, err)

	a, err = f.svc.Approve(admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, "u-SUPER_ADMIN", a.ApprovedBy)
	require.NotNil(t, a.ApprovedAt)

	a, err = f.svc.Execute(admin, a.ID, "warning sent")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, a.Status)
	assert.Equal(t, "warning sent", a.ExecutionNotes)
	require.NotNil(t, a.ExecutedAt)

	_, err = f.svc.Cancel(admin, a.ID, "")
	assert.ErrorIs(t, err, apierr.ErrInvalidTransition)
}

func TestApprove_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Create(ctxAs(auth.RoleInspector), CreateRequest{ViolationID: f.violationID, ActionType: "warning"})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctxAs(auth.RoleInspector), a.ID)
	assert.ErrorIs(t, err, apierr.ErrForbidden)
	_, err = f.svc.Approve(context.Background(), a.ID)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestRejectAndCancel(t *testing.T) {
	f := newFixture(t)
	admin := ctxAs(auth.RoleAdmin)

	a, err := f.svc.Create(admin, CreateRequest{ViolationID: f.violationID, ActionType: "termination"})
	require.NoError(t, err)
	a, err = f.svc.Reject(admin, a.ID, "disproportionate")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, a.Status)
	assert.Equal(t, "disproportionate", a.DecisionReason)

	b, err := f.svc.Create(admin, CreateRequest{ViolationID: f.violationID, ActionType: "training_required"})
	require.NoError(t, err)
	_, err = f.svc.Approve(admin, b.ID)
	require.NoError(t, err)
	b, err = f.svc.Cancel(admin, b.ID, "renter completed training")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, b.Status)

	_, err = f.svc.Approve(admin, b.ID)
	assert.ErrorIs(t, err, apierr.ErrInvalidTransition)
}

func TestListAndSummary(t *testing.T) {
	f := newFixture(t)
	admin := ctxAs(auth.RoleAdmin)
	fi := decimal.NewFromInt(100)

	a, err := f.svc.Create(admin, CreateRequest{ViolationID: f.violationID, ActionType: "penalty", Impact: ImpactRequest{FinancialImpact: &fi}})
	require.NoError(t, err)
	_, err = f.svc.Create(admin, CreateRequest{ViolationID: f.violationID, ActionType: "warning"})
	require.NoError(t, err)
	_, err = f.svc.Approve(admin, a.ID)
	require.NoError(t, err)
	_, err = f.svc.Execute(admin, a.ID, "")
	require.NoError(t, err)

	page, err := f.svc.List(admin, Filter{Statuses: []Status{StatusPending}}, pagination.New(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, TypeWarning, page.Actions[0].ActionType)

	sum, err := f.svc.Summary(admin)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ByStatus[StatusExecuted])
	assert.True(t, sum.ExecutedFinancial.Equal(fi))
}
