// Package stats provides read-only rollups and daily trends over profiles,
// violations, enforcement actions and compliance checks.
package stats

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/compliance"
	"github.com/rentwise/riskd/internal/enforcement"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/violation"
)

// ErrInvalidPeriod is returned for a trend period other than 7d, 30d or 90d.
var ErrInvalidPeriod = apierr.New(apierr.ErrBadRequest, "period must be 7d, 30d or 90d")

// Periods maps accepted trend periods onto a number of days.
var Periods = map[string]int{"7d": 7, "30d": 30, "90d": 90}

// DefaultPeriod is used when no period is requested.
const DefaultPeriod = "30d"

// Sources the rollups are read from.
type (
	ProfileSource interface {
		Summary(ctx context.Context) (profile.Summary, error)
	}
	ViolationSource interface {
		Summary(ctx context.Context) (violation.Summary, error)
		All(ctx context.Context) ([]*violation.Violation, error)
	}
	EnforcementSource interface {
		Summary(ctx context.Context) (enforcement.Summary, error)
	}
	ComplianceSource interface {
		Summary(ctx context.Context) (compliance.Summary, error)
		ChecksSince(ctx context.Context, since time.Time) ([]*compliance.Check, error)
	}
)

// Service aggregates the domain services.
type Service struct {
	profiles    ProfileSource
	violations  ViolationSource
	enforcement EnforcementSource
	compliance  ComplianceSource
	now         func() time.Time
}

// NewService creates a stats service.
func NewService(p ProfileSource, v ViolationSource, e EnforcementSource, c ComplianceSource) *Service {
	return &Service{profiles: p, violations: v, enforcement: e, compliance: c, now: time.Now}
}

// Overview is the body of GET /stats.
type Overview struct {
	Profiles    profile.Summary     `json:"profiles"`
	Violations  violation.Summary   `json:"violations"`
	Enforcement enforcement.Summary `json:"enforcement"`
	Compliance  compliance.Summary  `json:"compliance"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// Overview collects every summary concurrently.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	out := &Overview{GeneratedAt: s.now().UTC()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Profiles, err = s.profiles.Summary(ctx)
		return err
	})
	g.Go(func() (err error) {
		out.Violations, err = s.violations.Summary(ctx)
		return err
	})
	g.Go(func() (err error) {
		out.Enforcement, err = s.enforcement.Summary(ctx)
		return err
	})
	g.Go(func() (err error) {
		out.Compliance, err = s.compliance.Summary(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Bucket is one UTC day of trend data.
type Bucket struct {
	Date               string  `json:"date"`
	ViolationsDetected int     `json:"violationsDetected"`
	ViolationsResolved int     `json:"violationsResolved"`
	ChecksRun          int     `json:"checksRun"`
	AverageScore       float64 `json:"averageScore"`

	scoreSum float64
}

// Trends is the body of GET /trends.
type Trends struct {
	Period  string    `json:"period"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Buckets []Bucket  `json:"buckets"`
}

// Trends returns one bucket per UTC day for period, oldest first, ending
// today.
func (s *Service) Trends(ctx context.Context, period string) (*Trends, error) {
	if period == "" {
		period = DefaultPeriod
	}
	days, ok := Periods[period]
	if !ok {
		return nil, ErrInvalidPeriod
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	var (
		vs     []*violation.Violation
		checks []*compliance.Check
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		vs, err = s.violations.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		checks, err = s.compliance.ChecksSince(gctx, from)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	buckets := make([]Bucket, days)
	for i := range buckets {
		buckets[i].Date = from.AddDate(0, 0, i).Format(time.DateOnly)
	}
	index := func(t time.Time) (int, bool) {
		t = t.UTC()
		if t.Before(from) {
			return 0, false
		}
		i := int(t.Sub(from) / (24 * time.Hour))
		return i, i < days
	}

	for _, v := range vs {
		if i, ok := index(v.DetectedAt); ok {
			buckets[i].ViolationsDetected++
		}
		if v.ResolvedAt != nil {
			if i, ok := index(*v.ResolvedAt); ok {
				buckets[i].ViolationsResolved++
			}
		}
	}
	for _, c := range checks {
		if i, ok := index(c.CheckedAt); ok {
			buckets[i].ChecksRun++
			buckets[i].scoreSum += c.ComplianceScore
		}
	}
	for i := range buckets {
		if n := buckets[i].ChecksRun; n > 0 {
			buckets[i].AverageScore = math.Round(100*buckets[i].scoreSum/float64(n)) / 100
		}
	}

	return &Trends{Period: period, From: from, To: today.AddDate(0, 0, 1), Buckets: buckets}, nil
}
