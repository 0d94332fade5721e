package pgwarranty

import (
	"context"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// txMaxAttempts bounds the optimistic-retry loop. Composite transitions are
// re-run whole on a serialization conflict, so their bodies must stay free
// of non-repeatable side effects.
const txMaxAttempts = 5

func (s *Storage) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit(ctx)
			if err == nil {
				return nil
			}
		}
		_ = tx.Rollback(ctx)

		if !isSerializationConflict(err) {
			return err
		}
	}
	return errs.New(errs.KindStoreConflictExhausted, "transaction conflicted %d times, giving up", txMaxAttempts)
}

// isSerializationConflict reports Postgres serialization failures and
// deadlocks, the two retriable commit outcomes under SERIALIZABLE.
func isSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
