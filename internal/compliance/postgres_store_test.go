//go:build integration

package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/riskd/internal/booking"
	"github.com/rentwise/riskd/internal/idgen"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/testutil"
	"github.com/rentwise/riskd/internal/violation"
)

func TestPostgresStore_EnforceEndToEnd(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	profiles := profile.NewService(profile.NewPostgresStore(db), profile.Config{})
	bookings := booking.NewService(booking.NewPostgresStore(db), false)
	violations := violation.NewService(violation.NewPostgresStore(db), bookings)
	f := &fixture{
		svc:        NewService(NewPostgresStore(db), profiles, bookings, violations, Config{Dedupe: true}),
		profiles:   profiles,
		bookings:   bookings,
		violations: violations,
	}
	f.profile(t, `"mandatoryRequirements":{"insurance":true,"inspection":true,"complianceDeadlineHours":6},"autoEnforcement":true`)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	f.booking(t, &start)
	ctx := adminCtx()

	first, err := f.svc.Enforce(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ViolationsRecorded)

	_, err = violations.Escalate(ctx, first.Violations[0].ID, "repeat")
	require.NoError(t, err)

	second, err := f.svc.Enforce(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.DuplicatesSkipped)
	assert.Equal(t, first.Compliance.ID, second.Compliance.SupersedesID)
	assert.Equal(t, StatusNonCompliant, second.Compliance.ComplianceStatus)

	history, err := f.svc.ListChecks(ctx, bookingID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Compliance.ID, history[0].ID)
	assert.Equal(t, 1, history[0].OpenInvestigations)
	got := history[1]
	assert.Equal(t, []string{KeyInsurance, KeyInspection}, got.MissingRequirements)
	assert.Len(t, got.Requirements, 2)
	assert.Equal(t, "no insurance on file", got.Requirements[0].Detail)
	require.NotNil(t, got.DeadlineAt)
	assert.True(t, start.Add(-6*time.Hour).Equal(*got.DeadlineAt))
}

func TestPostgresStore_AppendCheckConcurrent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &Check{ID: idgen.New(), BookingID: bookingID, ProductID: productID, CategoryID: categoryID,
				ProfileID: "p1", ProfileVersion: 1, ComplianceScore: 100, ComplianceStatus: StatusCompliant,
				Requirements: []RequirementResult{}, MissingRequirements: []string{}, CheckedAt: time.Now().UTC()}
			assert.NoError(t, store.AppendCheck(ctx, c))
		}()
	}
	wg.Wait()

	checks, err := store.ListChecks(ctx, bookingID)
	require.NoError(t, err)
	require.Len(t, checks, 6)
	// the chain is linear: every check but the oldest supersedes the next one
	for i := 0; i < len(checks)-1; i++ {
		assert.Equal(t, checks[i+1].ID, checks[i].SupersedesID)
	}
	assert.Empty(t, checks[len(checks)-1].SupersedesID)

	since, err := store.ChecksSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 6)
}

func TestPostgresStore_Assessment(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	a := &Assessment{
		ID: idgen.New(), ProductID: productID, CategoryID: categoryID, ProfileID: "p1",
		RiskLevel: profile.RiskMedium, ComplianceScore: 50, ComplianceStatus: StatusPartiallyCompliant,
		Requirements:        []RequirementResult{{Key: KeyInsurance, Satisfied: true, Detail: "ok"}},
		MissingRequirements: []string{KeyInspection},
		RiskFactors:         []string{},
		Recommendations:     []string{"Record a passed inspection"},
		AssessedBy:          "admin-1",
		AssessedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.CreateAssessment(ctx, a))

	got, err := store.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Requirements, got.Requirements)
	assert.Equal(t, a.MissingRequirements, got.MissingRequirements)
	assert.Equal(t, []string{}, got.RiskFactors)
	assert.Empty(t, got.BookingID)

	_, err = store.GetAssessment(ctx, idgen.New())
	assert.ErrorIs(t, err, ErrAssessmentNotFound)
}
