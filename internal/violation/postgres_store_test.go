//go:build integration

package violation

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db), nil)
	ctx := inspectorCtx()

	penalty := decimal.RequireFromString("99.90")
	req := validRequest()
	req.ProductID = productA
	req.PenaltyAmount = &penalty
	v, err := svc.Create(ctx, req)
	require.NoError(t, err)

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PenaltyAmount)
	assert.True(t, got.PenaltyAmount.Equal(penalty))
	assert.Equal(t, []string{}, got.ResolutionActions)

	_, err = svc.Assign(ctx, v.ID, "insp-2")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, v.ID, "fixed", []string{"replaced part"})
	require.NoError(t, err)

	got, err = svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, []string{"replaced part"}, got.ResolutionActions)
	require.NotNil(t, got.ResolvedAt)

	_, err = svc.Escalate(ctx, v.ID, "")
	assert.ErrorIs(t, err, apierr.ErrInvalidTransition)

	// conditional update rejects a writer holding a stale status
	stale := got.Clone()
	stale.Status = StatusClosed
	assert.ErrorIs(t, NewPostgresStore(db).Update(context.Background(), stale, StatusOpen), ErrStatusChanged)
}

func TestPostgresStore_ListAndUnresolved(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	svc := NewService(NewPostgresStore(db), nil)
	ctx := context.Background()

	for _, req := range []AutoRecord{
		{BookingID: bookingA, ProductID: productA, ViolatorID: "r1", Requirement: "insurance", Type: TypeMissingInsurance, Severity: SeverityMajor},
		{BookingID: bookingA, ProductID: productA, ViolatorID: "o1", Requirement: "inspection", Type: TypeMissingInspection, Severity: SeverityMajor},
		{BookingID: bookingA, ProductID: productA, ViolatorID: "r1", Requirement: "minCoverage", Type: TypeInadequateCoverage, Severity: SeverityMinor},
	} {
		_, err := svc.RecordAuto(ctx, req)
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, Filter{Severities: []Severity{SeverityMajor}, BookingID: bookingA}, pagination.New(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	open, err := svc.Unresolved(ctx, bookingA)
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestPostgresStore_CreateUnlessOpen(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	svc := NewService(store, nil)
	ctx := inspectorCtx()
	rec := AutoRecord{
		BookingID: bookingA, ProductID: productA, ViolatorID: "r1",
		Requirement: "insurance", Type: TypeMissingInsurance, Severity: SeverityMajor, Dedupe: true,
	}

	// concurrent inserts: the partial unique index admits exactly one
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordAuto(ctx, rec)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateOpen)
	}
	require.Equal(t, 1, created)

	open, err := svc.Unresolved(ctx, bookingA)
	require.NoError(t, err)
	require.Len(t, open, 1)
	first := open[0].ID

	_, err = svc.Assign(ctx, first, "insp-1")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, first, "uploaded", nil)
	require.NoError(t, err)

	_, err = svc.RecordAuto(ctx, rec)
	require.NoError(t, err, "a resolved violation no longer blocks the requirement")

	plain := rec
	plain.Dedupe = false
	_, err = svc.RecordAuto(ctx, plain)
	require.NoError(t, err)
}
