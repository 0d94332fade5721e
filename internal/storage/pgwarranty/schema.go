package pgwarranty

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS registrations (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  serial TEXT NOT NULL,
  model TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  customer_phone TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  order_ref TEXT NOT NULL DEFAULT '',
  coverage_start DATE NOT NULL,
  coverage_end DATE NOT NULL,
  coverage_months INT NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// The "one ACTIVE registration per serial" rule is enforced by the
		// transition protocol (close-then-open inside one transaction), not
		// by a uniqueness constraint; the index only serves the lookups.
		`CREATE INDEX IF NOT EXISTS idx_registrations_serial_status ON registrations(serial, status)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_created_at ON registrations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_order_ref ON registrations(order_ref) WHERE order_ref <> ''`,
		`
CREATE TABLE IF NOT EXISTS carts (
  serial TEXT PRIMARY KEY,
  model TEXT NOT NULL,
  status TEXT NOT NULL,
  possession_type TEXT NOT NULL,
  possession_registration_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS cart_events (
  id BIGSERIAL PRIMARY KEY,
  serial TEXT NOT NULL REFERENCES carts(serial) ON DELETE CASCADE,
  event_type TEXT NOT NULL,
  payload JSONB NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_cart_events_serial_occurred_at ON cart_events(serial, occurred_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
