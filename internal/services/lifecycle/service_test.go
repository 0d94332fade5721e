package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/storage/pgwarranty"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	upserted  *models.Registration
	upsertErr error

	tradeIn    *pgwarranty.TradeInPickup
	tradeInOut *pgwarranty.TradeInResult

	usedSale    *pgwarranty.UsedSale
	usedSaleOut *pgwarranty.UsedSaleResult

	snapReg  *models.Registration
	snapCart *models.Cart

	scanOut   []*models.Registration
	deleted   [][]string
	deleteErr error
}

func (f *fakeRepo) UpsertRegistration(ctx context.Context, reg *models.Registration) (*models.Registration, error) {
	f.upserted = reg
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return reg, nil
}
func (f *fakeRepo) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	return nil, errs.New(errs.KindNotFound, "registration %q not found", id)
}
func (f *fakeRepo) ListRegistrations(ctx context.Context, limit, offset int) ([]*models.Registration, error) {
	return nil, nil
}
func (f *fakeRepo) ScanRegistrations(ctx context.Context, limit int) ([]*models.Registration, error) {
	return f.scanOut, nil
}
func (f *fakeRepo) DeleteRegistrations(ctx context.Context, ids []string) (int64, error) {
	f.deleted = append(f.deleted, append([]string{}, ids...))
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return int64(len(ids)), nil
}
func (f *fakeRepo) ApplyTradeInPickup(ctx context.Context, upd pgwarranty.TradeInPickup) (*pgwarranty.TradeInResult, error) {
	f.tradeIn = &upd
	if f.tradeInOut != nil {
		return f.tradeInOut, nil
	}
	return &pgwarranty.TradeInResult{}, nil
}
func (f *fakeRepo) ApplyUsedSale(ctx context.Context, upd pgwarranty.UsedSale) (*pgwarranty.UsedSaleResult, error) {
	f.usedSale = &upd
	if f.usedSaleOut != nil {
		return f.usedSaleOut, nil
	}
	return &pgwarranty.UsedSaleResult{
		Created: &models.Registration{ID: upd.RegistrationID, Serial: upd.Serial, Customer: upd.Customer, Coverage: upd.Coverage},
	}, nil
}
func (f *fakeRepo) GetLifecycleSnapshot(ctx context.Context, serial string) (*models.Registration, *models.Cart, error) {
	return f.snapReg, f.snapCart, nil
}
func (f *fakeRepo) ListCartEvents(ctx context.Context, serial string, limit, offset int) ([]*models.CartEvent, error) {
	return nil, nil
}

type fakeProducer struct {
	topic string
	vals  [][]byte
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topic = topic
	p.vals = append(p.vals, value)
	return p.err
}

func validOpen() models.OpenRegistrationInput {
	return models.OpenRegistrationInput{
		Serial:       "SN1",
		Model:        "VERTX",
		Customer:     models.Customer{Name: "Mario Rossi", Email: "mario@example.it"},
		Location:     "Milan",
		PurchaseDate: "2024-01-15",
		OrderRef:     "SHOP-1001",
	}
}

func TestOpenRegistration_MissingFields(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})

	cases := []struct {
		field  string
		mutate func(*models.OpenRegistrationInput)
	}{
		{"name", func(in *models.OpenRegistrationInput) { in.Customer.Name = " " }},
		{"email", func(in *models.OpenRegistrationInput) { in.Customer.Email = "" }},
		{"model", func(in *models.OpenRegistrationInput) { in.Model = "" }},
		{"serial", func(in *models.OpenRegistrationInput) { in.Serial = "" }},
		{"location", func(in *models.OpenRegistrationInput) { in.Location = "" }},
		{"purchase_date", func(in *models.OpenRegistrationInput) { in.PurchaseDate = "" }},
	}
	for _, tc := range cases {
		in := validOpen()
		tc.mutate(&in)
		_, err := s.OpenRegistration(context.Background(), in)
		require.Error(t, err, tc.field)
		var e *errs.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, errs.KindMissingField, e.Kind)
		require.Equal(t, tc.field, e.Field)
	}
}

func TestOpenRegistration_DefaultsAndOrderRefID(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, Settings{DefaultWarrantyMonths: 24})

	reg, err := s.OpenRegistration(context.Background(), validOpen())
	require.NoError(t, err)
	require.Equal(t, "SHOP-1001", reg.ID)
	require.Equal(t, models.RegistrationKindNew, reg.Kind)
	require.Equal(t, models.RegistrationStatusActive, reg.Status)
	require.Equal(t, 24, reg.Coverage.DurationMonths)
	require.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), reg.Coverage.End)
}

func TestOpenRegistration_GeneratedIDWithoutOrderRef(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, Settings{})

	in := validOpen()
	in.OrderRef = ""
	reg, err := s.OpenRegistration(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, reg.ID)
	require.Empty(t, reg.OrderRef)
}

func TestOpenRegistration_InvalidDate(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})
	in := validOpen()
	in.PurchaseDate = "not-a-date"
	_, err := s.OpenRegistration(context.Background(), in)
	require.True(t, errs.IsKind(err, errs.KindInvalidDate))
}

func TestOpenRegistration_PublishFailureIsSwallowed(t *testing.T) {
	p := &fakeProducer{err: errors.New("kafka down")}
	s := New(&fakeRepo{}, nil, p, Settings{ConfirmationTopic: "registration.confirmed"})

	_, err := s.OpenRegistration(context.Background(), validOpen())
	require.NoError(t, err)
	require.Equal(t, "registration.confirmed", p.topic)
	require.Len(t, p.vals, 1)
}

func TestTradeInPickup_Validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})

	_, err := s.TradeInPickup(context.Background(), models.TradeInPickupInput{Model: "X10"})
	require.True(t, errs.IsKind(err, errs.KindMissingField))

	_, err = s.TradeInPickup(context.Background(), models.TradeInPickupInput{Serial: "SN1"})
	require.True(t, errs.IsKind(err, errs.KindMissingField))
}

func TestUsedSale_Validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})
	ctx := context.Background()

	_, err := s.UsedSale(ctx, models.UsedSaleInput{Customer: models.Customer{Name: "A", Email: "a@b.c"}})
	require.True(t, errs.IsKind(err, errs.KindMissingField))

	_, err = s.UsedSale(ctx, models.UsedSaleInput{Serial: "SN1", Customer: models.Customer{Email: "a@b.c"}})
	require.True(t, errs.IsKind(err, errs.KindMissingField))

	_, err = s.UsedSale(ctx, models.UsedSaleInput{Serial: "SN1", Customer: models.Customer{Name: "A", Email: "a@b.c"}, SaleDate: "garbage"})
	require.True(t, errs.IsKind(err, errs.KindInvalidDate))

	_, err = s.UsedSale(ctx, models.UsedSaleInput{Serial: "SN1", Customer: models.Customer{Name: "A", Email: "a@b.c"}, WarrantyMonths: -1})
	require.True(t, errs.IsKind(err, errs.KindInvalidDuration))
}

func TestUsedSale_GeneratesIDIgnoringOrderRef(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, Settings{})

	res, err := s.UsedSale(context.Background(), models.UsedSaleInput{
		Serial:         "SN1",
		Customer:       models.Customer{Name: "Mario Rossi", Email: "mario@x.it"},
		SaleDate:       "2025-01-01",
		WarrantyMonths: 6,
		OrderRef:       "SHOP-9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, r.usedSale.RegistrationID)
	require.NotEqual(t, "SHOP-9", r.usedSale.RegistrationID)
	require.Equal(t, "SHOP-9", r.usedSale.OrderRef)
	require.Equal(t, time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), res.Created.Coverage.End)
}

func TestUsedSale_SaleDateDefaultsToToday(t *testing.T) {
	r := &fakeRepo{}
	now := time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC)
	s := New(r, nil, nil, Settings{}).WithClock(func() time.Time { return now })

	_, err := s.UsedSale(context.Background(), models.UsedSaleInput{
		Serial:         "SN1",
		Customer:       models.Customer{Name: "A", Email: "a@b.c"},
		WarrantyMonths: 12,
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), r.usedSale.Coverage.Start)
	require.Equal(t, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), r.usedSale.Coverage.End)
}

func TestLookup_ResidualDays(t *testing.T) {
	end := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	r := &fakeRepo{snapReg: &models.Registration{Serial: "SN1", Coverage: models.Coverage{End: end}}}
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	s := New(r, nil, nil, Settings{}).WithClock(func() time.Time { return now })

	res, err := s.Lookup(context.Background(), "SN1")
	require.NoError(t, err)
	require.NotNil(t, res.ResidualWarrantyDays)
	require.Equal(t, 30, *res.ResidualWarrantyDays)
}

func TestLookup_NoHistory(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})
	res, err := s.Lookup(context.Background(), "SN_UNKNOWN")
	require.NoError(t, err)
	require.Nil(t, res.Registration)
	require.Nil(t, res.Cart)
	require.Nil(t, res.ResidualWarrantyDays)
}

func TestExecutePurge_Batches(t *testing.T) {
	r := &fakeRepo{}
	s := New(r, nil, nil, Settings{PurgeBatchSize: 2})

	n, err := s.ExecutePurge(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Len(t, r.deleted, 3)
	require.Equal(t, []string{"a", "b"}, r.deleted[0])
	require.Equal(t, []string{"e"}, r.deleted[2])
}

func TestExecutePurge_PartialProgressOnFailure(t *testing.T) {
	r := &fakeRepo{deleteErr: errors.New("store down")}
	s := New(r, nil, nil, Settings{PurgeBatchSize: 2})

	n, err := s.ExecutePurge(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	require.Zero(t, n)
	require.Len(t, r.deleted, 1) // stopped at the first failing batch
}

func TestPlanPurge_EmptyFilterMatchesNothing(t *testing.T) {
	r := &fakeRepo{scanOut: []*models.Registration{{ID: "a"}}}
	s := New(r, nil, nil, Settings{})

	ids, err := s.PlanPurge(context.Background(), models.PurgeFilter{})
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestPlanPurge_Filters(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &fakeRepo{scanOut: []*models.Registration{
		{ID: "id-1", Customer: models.Customer{Email: "a@Test.COM"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "id-2", Customer: models.Customer{Email: "b@other.com"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "id-3", OrderRef: "SHOP-77", Customer: models.Customer{Email: "c@other.com"}, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "id-4", Customer: models.Customer{Email: "d@other.com"}, CreatedAt: old},
		{ID: "id-5", Customer: models.Customer{Email: "e@other.com"}, Coverage: models.Coverage{Start: old}},
	}}
	s := New(r, nil, nil, Settings{})

	ids, err := s.PlanPurge(context.Background(), models.PurgeFilter{
		IDs:            []string{"id-2"},
		OrderRefPrefix: "SHOP-",
		EmailDomain:    "test.com",
		CreatedBefore:  "2024-01-01",
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"id-1", "id-2", "id-3", "id-4", "id-5"}, ids)

	// Email domain alone, case-insensitive.
	ids, err = s.PlanPurge(context.Background(), models.PurgeFilter{EmailDomain: "TEST.com"})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1"}, ids)
}

func TestPlanPurge_InvalidCutoff(t *testing.T) {
	s := New(&fakeRepo{}, nil, nil, Settings{})
	_, err := s.PlanPurge(context.Background(), models.PurgeFilter{CreatedBefore: "garbage"})
	require.True(t, errs.IsKind(err, errs.KindInvalidDate))
}
