package pgwarranty

import (
	"context"
	"encoding/json"
	"time"

	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// TradeInPickup is the storage-level command for the dealer reclaiming a
// unit: close the active registration, park the cart with the dealer, log
// the event. Applied as one transaction.
type TradeInPickup struct {
	Serial     string
	Model      string
	Note       string
	ReturnDate string
	OccurredAt time.Time
}

type TradeInResult struct {
	Closed *models.Registration // nil when no registration was active
	Cart   *models.Cart
}

// UsedSale re-registers a unit to a new customer. RegistrationID is decided
// by the caller before the transaction starts so a conflict retry re-writes
// the same id instead of minting a second registration.
type UsedSale struct {
	RegistrationID string
	Serial         string
	Model          string
	Customer       models.Customer
	OrderRef       string
	Coverage       models.Coverage
	OccurredAt     time.Time
}

type UsedSaleResult struct {
	Closed  *models.Registration
	Created *models.Registration
	Cart    *models.Cart
}

const cartCols = `serial, model, status, possession_type, possession_registration_id, created_at, updated_at`

func scanCart(row pgx.Row) (*models.Cart, error) {
	var c models.Cart
	if err := row.Scan(
		&c.Serial, &c.Model, &c.Status,
		&c.Possession.Type, &c.Possession.RegistrationID,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// upsertCartTx creates the cart lazily on first transition. An empty model
// carries the previous model forward.
func upsertCartTx(ctx context.Context, tx dbtx, serial, model, status string, possession models.Possession, now time.Time) (*models.Cart, error) {
	row := tx.QueryRow(ctx, `
INSERT INTO carts (serial, model, status, possession_type, possession_registration_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (serial) DO UPDATE SET
  model = CASE WHEN EXCLUDED.model <> '' THEN EXCLUDED.model ELSE carts.model END,
  status = EXCLUDED.status,
  possession_type = EXCLUDED.possession_type,
  possession_registration_id = EXCLUDED.possession_registration_id,
  updated_at = EXCLUDED.updated_at
RETURNING `+cartCols,
		serial, model, status, possession.Type, possession.RegistrationID, now)
	cart, err := scanCart(row)
	if err != nil {
		return nil, errors.Wrap(err, "upsert cart")
	}
	return cart, nil
}

func appendCartEventTx(ctx context.Context, tx dbtx, serial, eventType string, payload any, occurredAt, now time.Time) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	_, err = tx.Exec(ctx, `
INSERT INTO cart_events (serial, event_type, payload, occurred_at, created_at)
VALUES ($1,$2,$3,$4,$5)
`, serial, eventType, b, occurredAt.UTC(), now)
	return errors.Wrap(err, "insert cart event")
}

func (s *Storage) ApplyTradeInPickup(ctx context.Context, upd TradeInPickup) (*TradeInResult, error) {
	var res TradeInResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		closed, err := closeActiveRegistrationTx(ctx, tx, upd.Serial, now)
		if err != nil {
			return err
		}

		cart, err := upsertCartTx(ctx, tx, upd.Serial, upd.Model,
			models.CartStatusPickedUpTradeIn,
			models.Possession{Type: models.PossessionDealer}, now)
		if err != nil {
			return err
		}

		payload := models.TradeInPickupPayload{ReturnDate: upd.ReturnDate, Note: upd.Note}
		if err := appendCartEventTx(ctx, tx, upd.Serial, models.CartEventTradeInPickup, payload, upd.OccurredAt, now); err != nil {
			return err
		}

		res = TradeInResult{Closed: closed, Cart: cart}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Storage) ApplyUsedSale(ctx context.Context, upd UsedSale) (*UsedSaleResult, error) {
	var res UsedSaleResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		closed, err := closeActiveRegistrationTx(ctx, tx, upd.Serial, now)
		if err != nil {
			return err
		}

		// Model carry-forward: prior registration first, then the cart.
		model := upd.Model
		if model == "" && closed != nil {
			model = closed.Model
		}
		if model == "" {
			var prior string
			err := tx.QueryRow(ctx, `SELECT model FROM carts WHERE serial = $1`, upd.Serial).Scan(&prior)
			if err != nil && err != pgx.ErrNoRows {
				return errors.Wrap(err, "select cart model")
			}
			model = prior
		}

		created, err := upsertRegistrationTx(ctx, tx, &models.Registration{
			ID:       upd.RegistrationID,
			Kind:     models.RegistrationKindUsed,
			Serial:   upd.Serial,
			Model:    model,
			Customer: upd.Customer,
			OrderRef: upd.OrderRef,
			Coverage: upd.Coverage,
			Status:   models.RegistrationStatusActive,
		}, now)
		if err != nil {
			return err
		}

		cart, err := upsertCartTx(ctx, tx, upd.Serial, model,
			models.CartStatusInUseByCustomer,
			models.Possession{Type: models.PossessionCustomer, RegistrationID: created.ID}, now)
		if err != nil {
			return err
		}

		payload := models.UsedSalePayload{
			RegistrationID: created.ID,
			CustomerName:   upd.Customer.Name,
			CoverageEnd:    upd.Coverage.End,
		}
		if err := appendCartEventTx(ctx, tx, upd.Serial, models.CartEventUsedSale, payload, upd.OccurredAt, now); err != nil {
			return err
		}

		res = UsedSaleResult{Closed: closed, Created: created, Cart: cart}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetLifecycleSnapshot reads the preferred registration and the cart in one
// read-only transaction so the pair is a consistent snapshot. ACTIVE wins;
// otherwise the registration with the latest coverage end.
func (s *Storage) GetLifecycleSnapshot(ctx context.Context, serial string) (*models.Registration, *models.Cart, error) {
	var reg *models.Registration
	var cart *models.Cart

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin read tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
SELECT`+registrationCols+`
FROM registrations
WHERE serial = $1
ORDER BY (status = $2) DESC, coverage_end DESC, created_at DESC, id DESC
LIMIT 1
`, serial, models.RegistrationStatusActive)
	reg, err = scanRegistration(row)
	if err == pgx.ErrNoRows {
		reg = nil
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "select registration for lookup")
	}

	row = tx.QueryRow(ctx, `SELECT `+cartCols+` FROM carts WHERE serial = $1`, serial)
	cart, err = scanCart(row)
	if err == pgx.ErrNoRows {
		cart = nil
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "select cart")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "commit read tx")
	}
	return reg, cart, nil
}

func (s *Storage) ListCartEvents(ctx context.Context, serial string, limit, offset int) ([]*models.CartEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, serial, event_type, payload, occurred_at, created_at
FROM cart_events
WHERE serial = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2 OFFSET $3
`, serial, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select cart events")
	}
	defer rows.Close()

	var out []*models.CartEvent
	for rows.Next() {
		var e models.CartEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Serial, &e.Type, &payload, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan cart event")
		}
		e.Payload = payload
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
