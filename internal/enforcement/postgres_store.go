package enforcement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rentwise/riskd/internal/pagination"
)

// PostgresStore persists enforcement actions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed enforcement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const actionColumns = `id, violation_id, target_user_id, action_type, status, reason,
	financial_impact, operational_impact, reputational_impact, compliance_impact, risk_mitigation,
	requested_by, approved_by, approved_at, executed_by, executed_at, execution_notes,
	decided_by, decision_reason, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, a *Action) error {
	im := a.Impact
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enforcement_actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		a.ID, a.ViolationID, a.TargetUserID, a.ActionType, a.Status, a.Reason,
		im.FinancialImpact, im.OperationalImpact, im.ReputationalImpact, im.ComplianceImpact, im.RiskMitigation,
		a.RequestedBy, a.ApprovedBy, a.ApprovedAt, a.ExecutedBy, a.ExecutedAt, a.ExecutionNotes,
		a.DecidedBy, a.DecisionReason, a.CreatedAt, a.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("violation %s: %w", a.ViolationID, ErrViolationNotFound)
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM enforcement_actions WHERE id = $1`, id)
	return scanAction(row)
}

func (s *PostgresStore) Update(ctx context.Context, a *Action, from Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enforcement_actions SET
			status = $1, approved_by = $2, approved_at = $3, executed_by = $4, executed_at = $5,
			execution_notes = $6, decided_by = $7, decision_reason = $8, updated_at = $9
		WHERE id = $10 AND status = $11`,
		a.Status, a.ApprovedBy, a.ApprovedAt, a.ExecutedBy, a.ExecutedAt,
		a.ExecutionNotes, a.DecidedBy, a.DecisionReason, a.UpdatedAt,
		a.ID, from,
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
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM enforcement_actions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusChanged
}

func (s *PostgresStore) List(ctx context.Context, f Filter, page pagination.Params) ([]*Action, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(toStrings(f.Statuses)))
	}
	if len(f.ActionTypes) > 0 {
		add("action_type = ANY($%d)", pq.Array(toStrings(f.ActionTypes)))
	}
	if f.ViolationID != "" {
		add("violation_id = $%d", f.ViolationID)
	}
	if f.TargetUserID != "" {
		add("target_user_id = $%d", f.TargetUserID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enforcement_actions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	items, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM enforcement_actions%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, actionColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func toStrings[T ~string](xs []T) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = string(x)
	}
	return out
}

func (s *PostgresStore) All(ctx context.Context) ([]*Action, error) {
	return s.query(ctx, `SELECT `+actionColumns+` FROM enforcement_actions ORDER BY created_at DESC, id DESC`)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(sc scanner) (*Action, error) {
	a := &Action{}
	im := &a.Impact
	var approvedAt, executedAt sql.NullTime
	err := sc.Scan(&a.ID, &a.ViolationID, &a.TargetUserID, &a.ActionType, &a.Status, &a.Reason,
		&im.FinancialImpact, &im.OperationalImpact, &im.ReputationalImpact, &im.ComplianceImpact, &im.RiskMitigation,
		&a.RequestedBy, &a.ApprovedBy, &approvedAt, &a.ExecutedBy, &executedAt, &a.ExecutionNotes,
		&a.DecidedBy, &a.DecisionReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ApprovedAt = timePtr(approvedAt)
	a.ExecutedAt = timePtr(executedAt)
	return a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*PostgresStore)(nil)
