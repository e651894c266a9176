package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/retry"
)

// PostgresStore persists risk profiles in PostgreSQL. The partial unique
// index on (product_id, category_id) WHERE is_active enforces one active
// profile per pair even under concurrent creates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `id, product_id, category_id, risk_level,
	insurance, inspection, min_coverage, inspection_types, compliance_deadline_hours,
	risk_factors, mitigation_strategies, enforcement_level, auto_enforcement,
	grace_period_hours, is_active, version, created_at, updated_at, created_by, updated_by`

func (s *PostgresStore) Create(ctx context.Context, p *RiskProfile, audit *AuditEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		r := p.MandatoryRequirements
		_, err := tx.ExecContext(ctx, `
			INSERT INTO risk_profiles (`+profileColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			p.ID, p.ProductID, p.CategoryID, p.RiskLevel,
			r.Insurance, r.Inspection, r.MinCoverage, textArray(r.InspectionTypes), r.ComplianceDeadlineHours,
			textArray(p.RiskFactors), textArray(p.MitigationStrategies), p.EnforcementLevel, p.AutoEnforcement,
			p.GracePeriodHours, p.IsActive, p.Version, p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.UpdatedBy,
		)
		if err != nil {
			return mapUniqueViolation(err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*RiskProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM risk_profiles WHERE id = $1`, id)
	return scanProfile(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, productID, categoryID string) (*RiskProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM risk_profiles
		WHERE product_id = $1 AND category_id = $2 AND is_active`, productID, categoryID)
	return scanProfile(row)
}

func (s *PostgresStore) ListByProduct(ctx context.Context, productID string) ([]*RiskProfile, error) {
	return s.query(ctx, `
		SELECT `+profileColumns+` FROM risk_profiles
		WHERE product_id = $1 ORDER BY created_at DESC, id DESC`, productID)
}

func (s *PostgresStore) All(ctx context.Context) ([]*RiskProfile, error) {
	return s.query(ctx, `SELECT `+profileColumns+` FROM risk_profiles ORDER BY created_at DESC, id DESC`)
}

func (s *PostgresStore) List(ctx context.Context, f Filter, page pagination.Params) ([]*RiskProfile, int, error) {
	where, args := filterClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	items, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM risk_profiles%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, profileColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.CategoryID != "" {
		add("category_id = $%d", f.CategoryID)
	}
	if len(f.RiskLevels) > 0 {
		levels := make([]string, len(f.RiskLevels))
		for i, l := range f.RiskLevels {
			levels[i] = string(l)
		}
		add("risk_level = ANY($%d)", pq.Array(levels))
	}
	if f.IsActive != nil {
		add("is_active = $%d", *f.IsActive)
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at <= $%d", f.CreatedTo)
	}
	if f.Search != "" {
		add(`(product_id || ' ' || category_id || ' ' || risk_level || ' ' ||
			array_to_string(risk_factors, ' ') || ' ' || array_to_string(mitigation_strategies, ' ')) ILIKE $%d`,
			"%"+escapeLike(f.Search)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) Update(ctx context.Context, p *RiskProfile, expectedVersion int, audit *AuditEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		r := p.MandatoryRequirements
		res, err := tx.ExecContext(ctx, `
			UPDATE risk_profiles SET
				product_id = $1, category_id = $2, risk_level = $3,
				insurance = $4, inspection = $5, min_coverage = $6, inspection_types = $7,
				compliance_deadline_hours = $8, risk_factors = $9, mitigation_strategies = $10,
				enforcement_level = $11, auto_enforcement = $12, grace_period_hours = $13,
				is_active = $14, version = $15, updated_at = $16, updated_by = $17
			WHERE id = $18 AND version = $19`,
			p.ProductID, p.CategoryID, p.RiskLevel,
			r.Insurance, r.Inspection, r.MinCoverage, textArray(r.InspectionTypes),
			r.ComplianceDeadlineHours, textArray(p.RiskFactors), textArray(p.MitigationStrategies),
			p.EnforcementLevel, p.AutoEnforcement, p.GracePeriodHours,
			p.IsActive, p.Version, p.UpdatedAt, p.UpdatedBy,
			p.ID, expectedVersion,
		)
		if err != nil {
			return mapUniqueViolation(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM risk_profiles WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return retry.Permanent(ErrNotFound)
			}
			return retry.Permanent(ErrVersionConflict)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *PostgresStore) Delete(ctx context.Context, id string, audit *AuditEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM risk_profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return retry.Permanent(ErrNotFound)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *PostgresStore) ListAudit(ctx context.Context, profileID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, action, version, snapshot, actor, at
		FROM risk_profile_audit WHERE profile_id = $1
		ORDER BY at ASC, id ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var snapshot []byte
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Action, &e.Version, &snapshot, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.Snapshot = snapshot
		result = append(result, e)
	}
	return result, rows.Err()
}

// inTx runs fn in a transaction, retrying transient failures.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry.Postgres.Do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func insertAudit(ctx context.Context, tx *sql.Tx, e *AuditEntry) error {
	if e == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO risk_profile_audit (id, profile_id, action, version, snapshot, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ProfileID, e.Action, e.Version, []byte(e.Snapshot), e.Actor, e.At)
	return err
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return retry.Permanent(ErrDuplicateActive)
	}
	return err
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*RiskProfile, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*RiskProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (*RiskProfile, error) {
	p := &RiskProfile{}
	r := &p.MandatoryRequirements
	var inspectionTypes, riskFactors, mitigations pq.StringArray
	err := sc.Scan(&p.ID, &p.ProductID, &p.CategoryID, &p.RiskLevel,
		&r.Insurance, &r.Inspection, &r.MinCoverage, &inspectionTypes, &r.ComplianceDeadlineHours,
		&riskFactors, &mitigations, &p.EnforcementLevel, &p.AutoEnforcement,
		&p.GracePeriodHours, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.InspectionTypes = nonNil(inspectionTypes)
	p.RiskFactors = nonNil(riskFactors)
	p.MitigationStrategies = nonNil(mitigations)
	return p, nil
}

// textArray encodes nil as an empty array rather than NULL.
func textArray(s []string) any {
	return pq.Array(nonNil(s))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
