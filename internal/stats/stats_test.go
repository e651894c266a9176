package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/riskd/internal/compliance"
	"github.com/rentwise/riskd/internal/enforcement"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/violation"
)

var now = time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC)

type fakeProfiles struct{ err error }

func (f fakeProfiles) Summary(context.Context) (profile.Summary, error) {
	return profile.Summary{Total: 3, Active: 2}, f.err
}

type fakeViolations struct{ vs []*violation.Violation }

func (f fakeViolations) Summary(context.Context) (violation.Summary, error) {
	return violation.Summarize(f.vs), nil
}

func (f fakeViolations) All(context.Context) ([]*violation.Violation, error) { return f.vs, nil }

type fakeEnforcement struct{}

func (fakeEnforcement) Summary(context.Context) (enforcement.Summary, error) {
	return enforcement.Summary{Total: 1}, nil
}

type fakeCompliance struct{ checks []*compliance.Check }

func (f fakeCompliance) Summary(context.Context) (compliance.Summary, error) {
	return compliance.Summarize(f.checks), nil
}

func (f fakeCompliance) ChecksSince(_ context.Context, since time.Time) ([]*compliance.Check, error) {
	var out []*compliance.Check
	for _, c := range f.checks {
		if !c.CheckedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func at(daysAgo int, hour int) time.Time {
	d := now.AddDate(0, 0, -daysAgo)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func newTestService(p ProfileSource) *Service {
	resolved := at(1, 8)
	vs := []*violation.Violation{
		{ID: "v1", Status: violation.StatusOpen, DetectedAt: at(0, 1)},
		{ID: "v2", Status: violation.StatusResolved, DetectedAt: at(2, 23), ResolvedAt: &resolved},
		{ID: "v3", Status: violation.StatusOpen, DetectedAt: at(40, 12)},
	}
	checks := []*compliance.Check{
		{ID: "c1", ComplianceScore: 100, ComplianceStatus: compliance.StatusCompliant, CheckedAt: at(0, 2)},
		{ID: "c2", ComplianceScore: 50, ComplianceStatus: compliance.StatusPartiallyCompliant, CheckedAt: at(0, 3)},
		{ID: "c3", ComplianceScore: 0, ComplianceStatus: compliance.StatusNonCompliant, CheckedAt: at(6, 0)},
		{ID: "c4", ComplianceScore: 0, ComplianceStatus: compliance.StatusNonCompliant, CheckedAt: at(7, 23)},
	}
	svc := NewService(p, fakeViolations{vs: vs}, fakeEnforcement{}, fakeCompliance{checks: checks})
	svc.now = func() time.Time { return now }
	return svc
}

func TestOverview(t *testing.T) {
	svc := newTestService(fakeProfiles{})
	out, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Profiles.Total)
	assert.Equal(t, 3, out.Violations.Total)
	assert.Equal(t, 2, out.Violations.Unresolved)
	assert.Equal(t, 1, out.Enforcement.Total)
	assert.Equal(t, 4, out.Compliance.Checks)
	assert.Equal(t, 37.5, out.Compliance.AverageScore)
	assert.Equal(t, now, out.GeneratedAt)
}

func TestOverview_PropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := newTestService(fakeProfiles{err: boom}).Overview(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTrends_SevenDays(t *testing.T) {
	svc := newTestService(fakeProfiles{})
	tr, err := svc.Trends(context.Background(), "7d")
	require.NoError(t, err)
	require.Len(t, tr.Buckets, 7)
	assert.Equal(t, "2026-06-04", tr.Buckets[0].Date)
	assert.Equal(t, "2026-06-10", tr.Buckets[6].Date)
	assert.Equal(t, time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC), tr.From)
	assert.Equal(t, time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC), tr.To)

	today := tr.Buckets[6]
	assert.Equal(t, 1, today.ViolationsDetected)
	assert.Equal(t, 2, today.ChecksRun)
	assert.Equal(t, 75.0, today.AverageScore)

	assert.Equal(t, 1, tr.Buckets[5].ViolationsResolved)
	assert.Equal(t, 1, tr.Buckets[4].ViolationsDetected)
	assert.Equal(t, 1, tr.Buckets[0].ChecksRun, "six days ago is the first bucket")

	total := 0
	for _, b := range tr.Buckets {
		total += b.ChecksRun
	}
	assert.Equal(t, 3, total, "checks older than the window are excluded")
}

func TestTrends_DefaultAndInvalidPeriod(t *testing.T) {
	svc := newTestService(fakeProfiles{})
	tr, err := svc.Trends(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "30d", tr.Period)
	assert.Len(t, tr.Buckets, 30)

	_, err = svc.Trends(context.Background(), "1y")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newTestService(fakeProfiles{})).RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var overview map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	assert.Contains(t, overview, "compliance")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/trends?period=90d", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var tr Trends
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.Len(t, tr.Buckets, 90)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/trends?period=2d", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
