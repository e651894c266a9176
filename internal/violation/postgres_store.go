package violation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/pagination"
)

// PostgresStore persists violations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed violation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const violationColumns = `id, booking_id, product_id, violator_id, profile_id, requirement,
	violation_type, severity, status, source, description, penalty_amount,
	resolution_actions, resolution_notes, escalation_reason, assigned_to, reported_by,
	detected_at, due_at, resolved_at, closed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, v *Violation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_violations (`+violationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		v.ID, v.BookingID, v.ProductID, v.ViolatorID, v.ProfileID, v.Requirement,
		v.Type, v.Severity, v.Status, v.Source, v.Description, nullDecimal(v.PenaltyAmount),
		pq.Array(nonNil(v.ResolutionActions)), v.ResolutionNotes, v.EscalationReason, v.AssignedTo, v.ReportedBy,
		v.DetectedAt, v.DueAt, v.ResolvedAt, v.ClosedAt, v.CreatedAt, v.UpdatedAt,
	)
	return err
}

// CreateUnlessOpen inserts v with dedupe_key set to its requirement. The
// NOT EXISTS guard covers rows written without a key; the partial unique
// index on (booking_id, dedupe_key) settles concurrent inserts.
func (s *PostgresStore) CreateUnlessOpen(ctx context.Context, v *Violation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_violations (`+violationColumns+`, dedupe_key)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM policy_violations
			WHERE booking_id = $2 AND requirement = $6 AND status NOT IN ('resolved', 'closed'))`,
		v.ID, v.BookingID, v.ProductID, v.ViolatorID, v.ProfileID, v.Requirement,
		v.Type, v.Severity, v.Status, v.Source, v.Description, nullDecimal(v.PenaltyAmount),
		pq.Array(nonNil(v.ResolutionActions)), v.ResolutionNotes, v.EscalationReason, v.AssignedTo, v.ReportedBy,
		v.DetectedAt, v.DueAt, v.ResolvedAt, v.ClosedAt, v.CreatedAt, v.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateOpen
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateOpen
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Violation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+violationColumns+` FROM policy_violations WHERE id = $1`, id)
	return scanViolation(row)
}

func (s *PostgresStore) Update(ctx context.Context, v *Violation, from Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE policy_violations SET
			status = $1, severity = $2, description = $3, penalty_amount = $4,
			resolution_actions = $5, resolution_notes = $6, escalation_reason = $7,
			assigned_to = $8, due_at = $9, resolved_at = $10, closed_at = $11, updated_at = $12
		WHERE id = $13 AND status = $14`,
		v.Status, v.Severity, v.Description, nullDecimal(v.PenaltyAmount),
		pq.Array(nonNil(v.ResolutionActions)), v.ResolutionNotes, v.EscalationReason,
		v.AssignedTo, v.DueAt, v.ResolvedAt, v.ClosedAt, v.UpdatedAt,
		v.ID, from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM policy_violations WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusChanged
}

func (s *PostgresStore) List(ctx context.Context, f Filter, page pagination.Params) ([]*Violation, int, error) {
	where, args := filterClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_violations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	items, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM policy_violations%s
		ORDER BY detected_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, violationColumns, where, len(args)-1, len(args)), args...)
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

	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(toStrings(f.Statuses)))
	}
	if len(f.Severities) > 0 {
		add("severity = ANY($%d)", pq.Array(toStrings(f.Severities)))
	}
	if len(f.Types) > 0 {
		add("violation_type = ANY($%d)", pq.Array(toStrings(f.Types)))
	}
	if f.BookingID != "" {
		add("booking_id = $%d", f.BookingID)
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.ViolatorID != "" {
		add("violator_id = $%d", f.ViolatorID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toStrings[T ~string](xs []T) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = string(x)
	}
	return out
}

func (s *PostgresStore) Unresolved(ctx context.Context, bookingID string) ([]*Violation, error) {
	return s.query(ctx, `
		SELECT `+violationColumns+` FROM policy_violations
		WHERE booking_id = $1 AND status NOT IN ('resolved', 'closed')
		ORDER BY detected_at DESC, id DESC`, bookingID)
}

func (s *PostgresStore) All(ctx context.Context) ([]*Violation, error) {
	return s.query(ctx, `SELECT `+violationColumns+` FROM policy_violations ORDER BY detected_at DESC, id DESC`)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Violation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Violation{}
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanViolation(sc scanner) (*Violation, error) {
	v := &Violation{}
	var (
		penalty                     decimal.NullDecimal
		actions                     pq.StringArray
		dueAt, resolvedAt, closedAt sql.NullTime
	)
	err := sc.Scan(&v.ID, &v.BookingID, &v.ProductID, &v.ViolatorID, &v.ProfileID, &v.Requirement,
		&v.Type, &v.Severity, &v.Status, &v.Source, &v.Description, &penalty,
		&actions, &v.ResolutionNotes, &v.EscalationReason, &v.AssignedTo, &v.ReportedBy,
		&v.DetectedAt, &dueAt, &resolvedAt, &closedAt, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if penalty.Valid {
		v.PenaltyAmount = &penalty.Decimal
	}
	v.ResolutionActions = nonNil(actions)
	v.DueAt = timePtr(dueAt)
	v.ResolvedAt = timePtr(resolvedAt)
	v.ClosedAt = timePtr(closedAt)
	return v, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
