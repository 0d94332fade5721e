package pgwarranty

import (
	"context"
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// maxDeleteBatch matches the store's batch-write ceiling; callers chunk
// larger purges.
const maxDeleteBatch = 400

const registrationCols = `
  id, kind, serial, model,
  customer_name, customer_email, customer_phone,
  location, order_ref,
  coverage_start, coverage_end, coverage_months,
  status, created_at, updated_at`

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var r models.Registration
	if err := row.Scan(
		&r.ID, &r.Kind, &r.Serial, &r.Model,
		&r.Customer.Name, &r.Customer.Email, &r.Customer.Phone,
		&r.Location, &r.OrderRef,
		&r.Coverage.Start, &r.Coverage.End, &r.Coverage.DurationMonths,
		&r.Status, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRegistration writes a registration keyed by its id. An existing id
// is overwritten in place (idempotent order re-submission); created_at is
// assigned by the store on first write and kept on overwrite.
func (s *Storage) UpsertRegistration(ctx context.Context, reg *models.Registration) (*models.Registration, error) {
	var out *models.Registration
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = upsertRegistrationTx(ctx, tx, reg, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertRegistrationTx(ctx context.Context, tx dbtx, reg *models.Registration, now time.Time) (*models.Registration, error) {
	row := tx.QueryRow(ctx, `
INSERT INTO registrations (
  id, kind, serial, model,
  customer_name, customer_email, customer_phone,
  location, order_ref,
  coverage_start, coverage_end, coverage_months,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
ON CONFLICT (id) DO UPDATE SET
  kind = EXCLUDED.kind,
  serial = EXCLUDED.serial,
  model = EXCLUDED.model,
  customer_name = EXCLUDED.customer_name,
  customer_email = EXCLUDED.customer_email,
  customer_phone = EXCLUDED.customer_phone,
  location = EXCLUDED.location,
  order_ref = EXCLUDED.order_ref,
  coverage_start = EXCLUDED.coverage_start,
  coverage_end = EXCLUDED.coverage_end,
  coverage_months = EXCLUDED.coverage_months,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
RETURNING `+registrationCols,
		reg.ID, reg.Kind, reg.Serial, reg.Model,
		reg.Customer.Name, reg.Customer.Email, reg.Customer.Phone,
		reg.Location, reg.OrderRef,
		reg.Coverage.Start, reg.Coverage.End, reg.Coverage.DurationMonths,
		reg.Status, now,
	)
	out, err := scanRegistration(row)
	if err != nil {
		return nil, errors.Wrap(err, "upsert registration")
	}
	return out, nil
}

// closeActiveRegistrationTx flips the most recent ACTIVE registration for a
// serial to CLOSED_FOR_TRADE_IN. Nil result when nothing is active: closing
// is idempotent and never fails for lack of work. Tie-break on equal
// created_at is the highest id, which is deterministic.
func closeActiveRegistrationTx(ctx context.Context, tx dbtx, serial string, now time.Time) (*models.Registration, error) {
	row := tx.QueryRow(ctx, `
SELECT`+registrationCols+`
FROM registrations
WHERE serial = $1 AND status = $2
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE
`, serial, models.RegistrationStatusActive)
	reg, err := scanRegistration(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active registration")
	}

	row = tx.QueryRow(ctx, `
UPDATE registrations
SET status = $2, updated_at = $3
WHERE id = $1
RETURNING `+registrationCols,
		reg.ID, models.RegistrationStatusClosedForTradeIn, now)
	closed, err := scanRegistration(row)
	if err != nil {
		return nil, errors.Wrap(err, "close registration")
	}
	return closed, nil
}

func (s *Storage) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	row := s.db.QueryRow(ctx, `SELECT`+registrationCols+` FROM registrations WHERE id = $1`, id)
	reg, err := scanRegistration(row)
	if err == pgx.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "registration %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select registration")
	}
	return reg, nil
}

func (s *Storage) ListRegistrations(ctx context.Context, limit, offset int) ([]*models.Registration, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryRegistrations(ctx, `
SELECT`+registrationCols+`
FROM registrations
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
}

// ScanRegistrations returns one bounded page for purge planning, oldest
// first so repeated purge runs drain history front to back.
func (s *Storage) ScanRegistrations(ctx context.Context, limit int) ([]*models.Registration, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryRegistrations(ctx, `
SELECT`+registrationCols+`
FROM registrations
ORDER BY created_at ASC, id ASC
LIMIT $1
`, limit)
}

func (s *Storage) queryRegistrations(ctx context.Context, sql string, args ...any) ([]*models.Registration, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select registrations")
	}
	defer rows.Close()

	var out []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan registration")
		}
		out = append(out, reg)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeleteRegistrations removes one batch of registrations by id and returns
// the number actually deleted. Batches above the store ceiling are refused
// rather than split silently.
func (s *Storage) DeleteRegistrations(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > maxDeleteBatch {
		return 0, errors.Errorf("delete batch of %d exceeds ceiling %d", len(ids), maxDeleteBatch)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM registrations WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "delete registrations")
	}
	return tag.RowsAffected(), nil
}
