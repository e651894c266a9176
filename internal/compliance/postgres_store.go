package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/rentwise/riskd/internal/retry"
)

// PostgresStore persists compliance checks and risk assessments in
// PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed compliance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const checkColumns = `id, booking_id, product_id, category_id, profile_id, profile_version,
	compliance_score, compliance_status, requirements, missing_requirements,
	open_investigations, deadline_at, supersedes_id, checked_by, checked_at`

// AppendCheck serializes writers per booking with a transaction-scoped
// advisory lock so supersedes_id always names the previous latest check.
func (s *PostgresStore) AppendCheck(ctx context.Context, c *Check) error {
	reqs, err := json.Marshal(c.Requirements)
	if err != nil {
		return err
	}
	return retry.Postgres.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "compliance:"+c.BookingID); err != nil {
			return err
		}
		var prev string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM compliance_checks WHERE booking_id = $1
			ORDER BY seq DESC LIMIT 1`, c.BookingID).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO compliance_checks (`+checkColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.ID, c.BookingID, c.ProductID, c.CategoryID, c.ProfileID, c.ProfileVersion,
			c.ComplianceScore, c.ComplianceStatus, reqs, pq.Array(nonNil(c.MissingRequirements)),
			c.OpenInvestigations, c.DeadlineAt, prev, c.CheckedBy, c.CheckedAt,
		)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		c.SupersedesID = prev
		return nil
	})
}

func (s *PostgresStore) ListChecks(ctx context.Context, bookingID string) ([]*Check, error) {
	return s.queryChecks(ctx, `SELECT `+checkColumns+` FROM compliance_checks
		WHERE booking_id = $1 ORDER BY seq DESC`, bookingID)
}

func (s *PostgresStore) ChecksSince(ctx context.Context, since time.Time) ([]*Check, error) {
	return s.queryChecks(ctx, `SELECT `+checkColumns+` FROM compliance_checks
		WHERE checked_at >= $1 ORDER BY checked_at, seq`, since)
}

func (s *PostgresStore) queryChecks(ctx context.Context, q string, args ...any) ([]*Check, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Check{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(sc scanner) (*Check, error) {
	c := &Check{}
	var (
		reqs     []byte
		missing  pq.StringArray
		deadline sql.NullTime
	)
	err := sc.Scan(&c.ID, &c.BookingID, &c.ProductID, &c.CategoryID, &c.ProfileID, &c.ProfileVersion,
		&c.ComplianceScore, &c.ComplianceStatus, &reqs, &missing,
		&c.OpenInvestigations, &deadline, &c.SupersedesID, &c.CheckedBy, &c.CheckedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reqs, &c.Requirements); err != nil {
		return nil, err
	}
	if c.Requirements == nil {
		c.Requirements = []RequirementResult{}
	}
	c.MissingRequirements = nonNil(missing)
	if deadline.Valid {
		t := deadline.Time
		c.DeadlineAt = &t
	}
	return c, nil
}

const assessmentColumns = `id, product_id, category_id, booking_id, profile_id, risk_level,
	compliance_score, compliance_status, requirements, missing_requirements,
	risk_factors, recommendations, assessed_by, assessed_at`

func (s *PostgresStore) CreateAssessment(ctx context.Context, a *Assessment) error {
	reqs, err := json.Marshal(a.Requirements)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (`+assessmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.ProductID, a.CategoryID, a.BookingID, a.ProfileID, a.RiskLevel,
		a.ComplianceScore, a.ComplianceStatus, reqs, pq.Array(nonNil(a.MissingRequirements)),
		pq.Array(nonNil(a.RiskFactors)), pq.Array(nonNil(a.Recommendations)), a.AssessedBy, a.AssessedAt,
	)
	return err
}

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	a := &Assessment{}
	var (
		reqs                          []byte
		missing, factors, recommended pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM risk_assessments WHERE id = $1`, id).Scan(
		&a.ID, &a.ProductID, &a.CategoryID, &a.BookingID, &a.ProfileID, &a.RiskLevel,
		&a.ComplianceScore, &a.ComplianceStatus, &reqs, &missing,
		&factors, &recommended, &a.AssessedBy, &a.AssessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reqs, &a.Requirements); err != nil {
		return nil, err
	}
	if a.Requirements == nil {
		a.Requirements = []RequirementResult{}
	}
	a.MissingRequirements = nonNil(missing)
	a.RiskFactors = nonNil(factors)
	a.Recommendations = nonNil(recommended)
	return a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
