package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/riskd/internal/retry"
)

// PostgresStore persists bookings and inspections in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingColumns = `id, product_id, category_id, renter_id, owner_id, starts_at, ends_at,
	has_insurance, insurance_provider, insurance_policy_number, insurance_coverage, insurance_valid_until,
	created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	return s.get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) get(ctx context.Context, q querier, id string) (*Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, type, passed, inspector_id, notes, inspected_at
		FROM booking_inspections WHERE booking_id = $1
		ORDER BY inspected_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	b.Inspections = []Inspection{}
	for rows.Next() {
		var in Inspection
		if err := rows.Scan(&in.ID, &in.Type, &in.Passed, &in.InspectorID, &in.Notes, &in.InspectedAt); err != nil {
			return nil, err
		}
		b.Inspections = append(b.Inspections, in)
	}
	return b, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, b *Booking) (*Booking, error) {
	var out *Booking
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (id, product_id, category_id, renter_id, owner_id, starts_at, ends_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				product_id = EXCLUDED.product_id, category_id = EXCLUDED.category_id,
				renter_id = EXCLUDED.renter_id, owner_id = EXCLUDED.owner_id,
				starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
				updated_at = EXCLUDED.updated_at`,
			b.ID, b.ProductID, b.CategoryID, b.RenterID, b.OwnerID, b.StartsAt, b.EndsAt, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return err
		}
		if b.Insurance != nil {
			if err := setInsurance(ctx, tx, b.ID, b.Insurance, b.UpdatedAt); err != nil {
				return err
			}
		}
		out, err = s.get(ctx, tx, b.ID)
		return err
	})
	return out, err
}

func (s *PostgresStore) AttachInsurance(ctx context.Context, id string, ins *Insurance, at time.Time) (*Booking, error) {
	var out *Booking
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := setInsurance(ctx, tx, id, ins, at); err != nil {
			return err
		}
		var err error
		out, err = s.get(ctx, tx, id)
		return err
	})
	return out, err
}

func setInsurance(ctx context.Context, tx *sql.Tx, id string, ins *Insurance, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			has_insurance = true, insurance_provider = $1, insurance_policy_number = $2,
			insurance_coverage = $3, insurance_valid_until = $4, updated_at = $5
		WHERE id = $6`,
		ins.Provider, ins.PolicyNumber, ins.Coverage.StringFixed(2), ins.ValidUntil, at, id)
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
	return nil
}

func (s *PostgresStore) AddInspection(ctx context.Context, id string, in Inspection, at time.Time) (*Booking, error) {
	var out *Booking
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE bookings SET updated_at = $1 WHERE id = $2`, at, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return retry.Permanent(ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO booking_inspections (id, booking_id, type, passed, inspector_id, notes, inspected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			in.ID, id, in.Type, in.Passed, in.InspectorID, in.Notes, in.InspectedAt)
		if err != nil {
			return err
		}
		out, err = s.get(ctx, tx, id)
		return err
	})
	return out, err
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

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(sc scanner) (*Booking, error) {
	b := &Booking{}
	var (
		startsAt, endsAt, validUntil sql.NullTime
		hasInsurance                 bool
		provider, policyNumber       string
		coverage                     decimal.Decimal
	)
	err := sc.Scan(&b.ID, &b.ProductID, &b.CategoryID, &b.RenterID, &b.OwnerID, &startsAt, &endsAt,
		&hasInsurance, &provider, &policyNumber, &coverage, &validUntil,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.StartsAt = timePtr(startsAt)
	b.EndsAt = timePtr(endsAt)
	if hasInsurance {
		b.Insurance = &Insurance{
			Provider:     provider,
			PolicyNumber: policyNumber,
			Coverage:     coverage,
			ValidUntil:   timePtr(validUntil),
		}
	}
	return b, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*PostgresStore)(nil)
