package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/StewartGolf/CartBox/internal/broker/messages"
	"github.com/StewartGolf/CartBox/internal/cache"
	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/storage/pgwarranty"
	"github.com/StewartGolf/CartBox/internal/warranty"
	"github.com/google/uuid"
)

type Repository interface {
	UpsertRegistration(ctx context.Context, reg *models.Registration) (*models.Registration, error)
	GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error)
	ListRegistrations(ctx context.Context, limit, offset int) ([]*models.Registration, error)
	ScanRegistrations(ctx context.Context, limit int) ([]*models.Registration, error)
	DeleteRegistrations(ctx context.Context, ids []string) (int64, error)
	ApplyTradeInPickup(ctx context.Context, upd pgwarranty.TradeInPickup) (*pgwarranty.TradeInResult, error)
	ApplyUsedSale(ctx context.Context, upd pgwarranty.UsedSale) (*pgwarranty.UsedSaleResult, error)
	GetLifecycleSnapshot(ctx context.Context, serial string) (*models.Registration, *models.Cart, error)
	ListCartEvents(ctx context.Context, serial string, limit, offset int) ([]*models.CartEvent, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Settings struct {
	ConfirmationTopic     string
	LookupCacheTTL        time.Duration
	DefaultWarrantyMonths int
	PurgeScanLimit        int
	PurgeBatchSize        int
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	producer Producer
	st       Settings

	now   func() time.Time
	newID func() string
}

func New(repo Repository, c cache.BytesCache, producer Producer, st Settings) *Service {
	if st.DefaultWarrantyMonths <= 0 {
		st.DefaultWarrantyMonths = 24
	}
	if st.PurgeScanLimit <= 0 {
		st.PurgeScanLimit = 1000
	}
	if st.PurgeBatchSize <= 0 || st.PurgeBatchSize > 400 {
		st.PurgeBatchSize = 400
	}
	return &Service{
		repo:     repo,
		cache:    c,
		producer: producer,
		st:       st,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock pins the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// firstMissing returns the name of the first blank required field, walking
// pairs in declaration order so callers get a stable error.
func firstMissing(pairs ...[2]string) string {
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			return p[0]
		}
	}
	return ""
}

// OpenRegistration records a new-sale warranty registration. A supplied
// order reference becomes the registration id, so re-submitting the same
// order overwrites the record instead of duplicating it.
func (s *Service) OpenRegistration(ctx context.Context, in models.OpenRegistrationInput) (*models.Registration, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.RegistrationKindNew
	}

	required := [][2]string{
		{"name", in.Customer.Name},
		{"email", in.Customer.Email},
		{"model", in.Model},
		{"serial", in.Serial},
		{"location", in.Location},
	}
	if kind == models.RegistrationKindNew {
		required = append(required, [2]string{"purchase_date", in.PurchaseDate})
	}
	if f := firstMissing(required...); f != "" {
		return nil, errs.MissingField(f)
	}

	months := in.WarrantyMonths
	if months == 0 {
		months = s.st.DefaultWarrantyMonths
	}

	purchaseDate := in.PurchaseDate
	if purchaseDate == "" {
		purchaseDate = s.now().Format("2006-01-02")
	}
	cov, err := warranty.ComputeCoverageFrom(purchaseDate, months)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(in.OrderRef)
	if id == "" {
		id = s.newID()
	}

	reg, err := s.repo.UpsertRegistration(ctx, &models.Registration{
		ID:       id,
		Kind:     kind,
		Serial:   in.Serial,
		Model:    in.Model,
		Customer: in.Customer,
		Location: in.Location,
		OrderRef: strings.TrimSpace(in.OrderRef),
		Coverage: cov,
		Status:   models.RegistrationStatusActive,
	})
	if err != nil {
		return nil, err
	}

	s.afterRegistration(ctx, reg)
	return reg, nil
}

// TradeInPickup reclaims a unit from its customer: the active registration
// is closed, the cart goes back to the dealer, and a trade_in_pickup event
// is logged. All of it commits atomically or not at all.
func (s *Service) TradeInPickup(ctx context.Context, in models.TradeInPickupInput) (*pgwarranty.TradeInResult, error) {
	if f := firstMissing([2]string{"serial", in.Serial}, [2]string{"model", in.Model}); f != "" {
		return nil, errs.MissingField(f)
	}

	res, err := s.repo.ApplyTradeInPickup(ctx, pgwarranty.TradeInPickup{
		Serial:     in.Serial,
		Model:      in.Model,
		Note:       in.Note,
		ReturnDate: in.ReturnDate,
		OccurredAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.dropLookup(ctx, in.Serial)
	return res, nil
}

// UsedSale resells a unit: the previous registration is closed and a fresh
// USED one opened in the same transaction. The new registration id is
// always generated here — never the caller's order reference — so USED ids
// cannot collide with NEW-sale order ids. Generating it before the
// transaction keeps conflict retries idempotent.
func (s *Service) UsedSale(ctx context.Context, in models.UsedSaleInput) (*pgwarranty.UsedSaleResult, error) {
	if f := firstMissing(
		[2]string{"serial", in.Serial},
		[2]string{"name", in.Customer.Name},
		[2]string{"email", in.Customer.Email},
	); f != "" {
		return nil, errs.MissingField(f)
	}

	saleDate := s.now()
	if in.SaleDate != "" {
		var err error
		saleDate, err = warranty.ParseDate(in.SaleDate)
		if err != nil {
			return nil, err
		}
	} else {
		saleDate = time.Date(saleDate.Year(), saleDate.Month(), saleDate.Day(), 0, 0, 0, 0, time.UTC)
	}

	cov, err := warranty.ComputeCoverage(saleDate, in.WarrantyMonths)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.ApplyUsedSale(ctx, pgwarranty.UsedSale{
		RegistrationID: s.newID(),
		Serial:         in.Serial,
		Model:          in.Model,
		Customer:       in.Customer,
		OrderRef:       strings.TrimSpace(in.OrderRef),
		Coverage:       cov,
		OccurredAt:     s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.afterRegistration(ctx, res.Created)
	return res, nil
}

// Lookup answers the warranty-status query for a serial. The result is a
// best-effort cached snapshot; residual days are recomputed per call so a
// cache hit does not freeze the countdown.
func (s *Service) Lookup(ctx context.Context, serial string) (*models.LookupResult, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, errs.MissingField("serial")
	}

	if res, ok := s.cachedLookup(ctx, serial); ok {
		return res, nil
	}

	reg, cart, err := s.repo.GetLifecycleSnapshot(ctx, serial)
	if err != nil {
		return nil, err
	}
	res := &models.LookupResult{Registration: reg, Cart: cart}
	s.storeLookup(ctx, serial, res)

	s.fillResidual(res)
	return res, nil
}

func (s *Service) fillResidual(res *models.LookupResult) {
	if res.Registration == nil || res.Registration.Coverage.End.IsZero() {
		res.ResidualWarrantyDays = nil
		return
	}
	days := warranty.ResidualDays(res.Registration.Coverage.End, s.now())
	res.ResidualWarrantyDays = &days
}

func lookupKey(serial string) string {
	return fmt.Sprintf("cart:%s:lookup", serial)
}

func (s *Service) cachedLookup(ctx context.Context, serial string) (*models.LookupResult, bool) {
	if s.cache == nil || s.st.LookupCacheTTL <= 0 {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, lookupKey(serial))
	if err != nil || !ok {
		return nil, false
	}
	var res models.LookupResult
	if json.Unmarshal(b, &res) != nil {
		return nil, false
	}
	s.fillResidual(&res)
	return &res, true
}

func (s *Service) storeLookup(ctx context.Context, serial string, res *models.LookupResult) {
	if s.cache == nil || s.st.LookupCacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, lookupKey(serial), b, s.st.LookupCacheTTL)
}

func (s *Service) dropLookup(ctx context.Context, serial string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, lookupKey(serial))
}

// GetRegistrationByOrderRef serves the dealer-portal order search. NEW
// registrations are keyed by their order reference, so this is an id get.
func (s *Service) GetRegistrationByOrderRef(ctx context.Context, orderRef string) (*models.Registration, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, errs.MissingField("order_ref")
	}
	return s.repo.GetRegistrationByID(ctx, orderRef)
}

func (s *Service) ListRegistrations(ctx context.Context, limit, offset int) ([]*models.Registration, error) {
	return s.repo.ListRegistrations(ctx, limit, offset)
}

func (s *Service) ListCartEvents(ctx context.Context, serial string, limit, offset int) ([]*models.CartEvent, error) {
	if strings.TrimSpace(serial) == "" {
		return nil, errs.MissingField("serial")
	}
	return s.repo.ListCartEvents(ctx, serial, limit, offset)
}

// afterRegistration publishes the confirmation message and drops the stale
// lookup snapshot. Both run after the transaction committed and both are
// best effort: registration success is defined by the commit alone, a
// failed email or cache write never surfaces to the caller.
func (s *Service) afterRegistration(ctx context.Context, reg *models.Registration) {
	s.dropLookup(ctx, reg.Serial)

	if s.producer == nil || s.st.ConfirmationTopic == "" {
		return
	}
	msg := messages.RegistrationConfirmed{
		RegistrationID: reg.ID,
		Kind:           reg.Kind,
		Serial:         reg.Serial,
		Model:          reg.Model,
		CustomerName:   reg.Customer.Name,
		CustomerEmail:  reg.Customer.Email,
		Location:       reg.Location,
		OrderRef:       reg.OrderRef,
		CoverageStart:  reg.Coverage.Start,
		CoverageEnd:    reg.Coverage.End,
		RegisteredAt:   reg.CreatedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.st.ConfirmationTopic, []byte(reg.Serial), b); err != nil {
		slog.Error("confirmation publish failed", "registration_id", reg.ID, "err", err)
	}
}
