package memwarranty

import (
	"context"
	"testing"
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/storage/pgwarranty"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemWarranty_UpsertKeepsCreatedAt(t *testing.T) {
	st := New().WithClock(fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	reg, err := st.UpsertRegistration(ctx, &models.Registration{ID: "A", Serial: "SN1", Status: models.RegistrationStatusActive})
	require.NoError(t, err)

	reg2, err := st.UpsertRegistration(ctx, &models.Registration{ID: "A", Serial: "SN1", Status: models.RegistrationStatusActive})
	require.NoError(t, err)
	require.Equal(t, reg.CreatedAt, reg2.CreatedAt)
	require.True(t, reg2.UpdatedAt.After(reg.UpdatedAt))
}

func TestMemWarranty_GetByID_NotFound(t *testing.T) {
	st := New()
	_, err := st.GetRegistrationByID(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMemWarranty_CloseMostRecentActive(t *testing.T) {
	st := New().WithClock(fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	_, err := st.UpsertRegistration(ctx, &models.Registration{ID: "old", Serial: "SN1", Status: models.RegistrationStatusActive})
	require.NoError(t, err)
	_, err = st.UpsertRegistration(ctx, &models.Registration{ID: "new", Serial: "SN1", Status: models.RegistrationStatusActive})
	require.NoError(t, err)

	res, err := st.ApplyTradeInPickup(ctx, pgwarranty.TradeInPickup{Serial: "SN1", Model: "X10", OccurredAt: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	require.Equal(t, "new", res.Closed.ID)

	// The older one is still active; a second pickup closes it too.
	res, err = st.ApplyTradeInPickup(ctx, pgwarranty.TradeInPickup{Serial: "SN1", Model: "X10", OccurredAt: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	require.Equal(t, "old", res.Closed.ID)

	// Then there is nothing left to close.
	res, err = st.ApplyTradeInPickup(ctx, pgwarranty.TradeInPickup{Serial: "SN1", Model: "X10", OccurredAt: time.Now()})
	require.NoError(t, err)
	require.Nil(t, res.Closed)
}

func TestMemWarranty_SnapshotPrefersActive(t *testing.T) {
	st := New().WithClock(fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	far := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	near := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := st.UpsertRegistration(ctx, &models.Registration{
		ID: "closed", Serial: "SN1",
		Status:   models.RegistrationStatusClosedForTradeIn,
		Coverage: models.Coverage{End: far},
	})
	require.NoError(t, err)
	_, err = st.UpsertRegistration(ctx, &models.Registration{
		ID: "active", Serial: "SN1",
		Status:   models.RegistrationStatusActive,
		Coverage: models.Coverage{End: near},
	})
	require.NoError(t, err)

	reg, _, err := st.GetLifecycleSnapshot(ctx, "SN1")
	require.NoError(t, err)
	require.Equal(t, "active", reg.ID)
}

func TestMemWarranty_DeleteBatch(t *testing.T) {
	st := New()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := st.UpsertRegistration(ctx, &models.Registration{ID: id, Serial: "SN-" + id})
		require.NoError(t, err)
	}

	n, err := st.DeleteRegistrations(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	over := make([]string, 401)
	_, err = st.DeleteRegistrations(ctx, over)
	require.Error(t, err)
}

func TestMemWarranty_EventsNewestFirst(t *testing.T) {
	st := New().WithClock(fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.ApplyTradeInPickup(ctx, pgwarranty.TradeInPickup{
			Serial: "SN1", Model: "Q Follow", OccurredAt: time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	evs, err := st.ListCartEvents(ctx, "SN1", 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.True(t, evs[0].OccurredAt.After(evs[2].OccurredAt))

	evs, err = st.ListCartEvents(ctx, "SN1", 10, 1)
	require.NoError(t, err)
	require.Len(t, evs, 2)
}
