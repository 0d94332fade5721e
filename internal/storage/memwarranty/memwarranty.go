// Package memwarranty is an in-memory drop-in for the Postgres storage.
// It backs the engine tests and lets cart-api run without a database
// (demo mode). Operations take one lock, which gives the same all-or-
// nothing semantics as the store transaction.
package memwarranty

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/storage/pgwarranty"
	"github.com/pkg/errors"
)

const maxDeleteBatch = 400

type regEntry struct {
	reg *models.Registration
	seq uint64
}

type Storage struct {
	mu sync.Mutex

	regs   map[string]*regEntry
	carts  map[string]*models.Cart
	events map[string][]*models.CartEvent

	seq      uint64
	eventSeq uint64

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		regs:   map[string]*regEntry{},
		carts:  map[string]*models.Cart{},
		events: map[string][]*models.CartEvent{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock pins the storage clock, for tests.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func cloneRegistration(r *models.Registration) *models.Registration {
	cp := *r
	return &cp
}

func cloneCart(c *models.Cart) *models.Cart {
	cp := *c
	return &cp
}

func (s *Storage) UpsertRegistration(ctx context.Context, reg *models.Registration) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRegistration(s.upsertRegistrationLocked(reg)), nil
}

func (s *Storage) upsertRegistrationLocked(reg *models.Registration) *models.Registration {
	now := s.now()
	cp := cloneRegistration(reg)
	cp.UpdatedAt = now

	if prev, ok := s.regs[cp.ID]; ok {
		// Overwrite in place, keeping the original creation time.
		cp.CreatedAt = prev.reg.CreatedAt
		prev.reg = cp
		return cp
	}

	cp.CreatedAt = now
	s.seq++
	s.regs[cp.ID] = &regEntry{reg: cp, seq: s.seq}
	return cp
}

func (s *Storage) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.regs[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "registration %q not found", id)
	}
	return cloneRegistration(e.reg), nil
}

// sortedLocked returns registrations oldest first with a deterministic
// tie-break on insertion order, mirroring the SQL created_at/id ordering.
func (s *Storage) sortedLocked() []*regEntry {
	out := make([]*regEntry, 0, len(s.regs))
	for _, e := range s.regs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].reg.CreatedAt.Equal(out[j].reg.CreatedAt) {
			return out[i].reg.CreatedAt.Before(out[j].reg.CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (s *Storage) ListRegistrations(ctx context.Context, limit, offset int) ([]*models.Registration, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sortedLocked()
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	var out []*models.Registration
	for i := offset; i < len(entries) && len(out) < limit; i++ {
		out = append(out, cloneRegistration(entries[i].reg))
	}
	return out, nil
}

func (s *Storage) ScanRegistrations(ctx context.Context, limit int) ([]*models.Registration, error) {
	if limit <= 0 {
		limit = 1000
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Registration
	for _, e := range s.sortedLocked() {
		if len(out) == limit {
			break
		}
		out = append(out, cloneRegistration(e.reg))
	}
	return out, nil
}

func (s *Storage) DeleteRegistrations(ctx context.Context, ids []string) (int64, error) {
	if len(ids) > maxDeleteBatch {
		return 0, errors.Errorf("delete batch of %d exceeds ceiling %d", len(ids), maxDeleteBatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := s.regs[id]; ok {
			delete(s.regs, id)
			n++
		}
	}
	return n, nil
}

func (s *Storage) closeActiveLocked(serial string) *models.Registration {
	var best *regEntry
	for _, e := range s.regs {
		if e.reg.Serial != serial || e.reg.Status != models.RegistrationStatusActive {
			continue
		}
		if best == nil ||
			e.reg.CreatedAt.After(best.reg.CreatedAt) ||
			(e.reg.CreatedAt.Equal(best.reg.CreatedAt) && e.seq > best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	best.reg.Status = models.RegistrationStatusClosedForTradeIn
	best.reg.UpdatedAt = s.now()
	return cloneRegistration(best.reg)
}

func (s *Storage) upsertCartLocked(serial, model, status string, possession models.Possession) *models.Cart {
	now := s.now()
	c, ok := s.carts[serial]
	if !ok {
		c = &models.Cart{Serial: serial, CreatedAt: now}
		s.carts[serial] = c
	}
	if model != "" {
		c.Model = model
	}
	c.Status = status
	c.Possession = possession
	c.UpdatedAt = now
	return cloneCart(c)
}

func (s *Storage) appendEventLocked(serial, eventType string, payload any, occurredAt time.Time) {
	b, _ := json.Marshal(payload)
	s.eventSeq++
	s.events[serial] = append(s.events[serial], &models.CartEvent{
		ID:         s.eventSeq,
		Serial:     serial,
		Type:       eventType,
		Payload:    b,
		OccurredAt: occurredAt,
		CreatedAt:  s.now(),
	})
}

func (s *Storage) ApplyTradeInPickup(ctx context.Context, upd pgwarranty.TradeInPickup) (*pgwarranty.TradeInResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.closeActiveLocked(upd.Serial)
	cart := s.upsertCartLocked(upd.Serial, upd.Model,
		models.CartStatusPickedUpTradeIn,
		models.Possession{Type: models.PossessionDealer})
	s.appendEventLocked(upd.Serial, models.CartEventTradeInPickup,
		models.TradeInPickupPayload{ReturnDate: upd.ReturnDate, Note: upd.Note}, upd.OccurredAt)

	return &pgwarranty.TradeInResult{Closed: closed, Cart: cart}, nil
}

func (s *Storage) ApplyUsedSale(ctx context.Context, upd pgwarranty.UsedSale) (*pgwarranty.UsedSaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.closeActiveLocked(upd.Serial)

	model := upd.Model
	if model == "" && closed != nil {
		model = closed.Model
	}
	if model == "" {
		if c, ok := s.carts[upd.Serial]; ok {
			model = c.Model
		}
	}

	created := s.upsertRegistrationLocked(&models.Registration{
		ID:       upd.RegistrationID,
		Kind:     models.RegistrationKindUsed,
		Serial:   upd.Serial,
		Model:    model,
		Customer: upd.Customer,
		OrderRef: upd.OrderRef,
		Coverage: upd.Coverage,
		Status:   models.RegistrationStatusActive,
	})

	cart := s.upsertCartLocked(upd.Serial, model,
		models.CartStatusInUseByCustomer,
		models.Possession{Type: models.PossessionCustomer, RegistrationID: created.ID})
	s.appendEventLocked(upd.Serial, models.CartEventUsedSale,
		models.UsedSalePayload{
			RegistrationID: created.ID,
			CustomerName:   upd.Customer.Name,
			CoverageEnd:    upd.Coverage.End,
		}, upd.OccurredAt)

	return &pgwarranty.UsedSaleResult{Closed: closed, Created: cloneRegistration(created), Cart: cart}, nil
}

func (s *Storage) GetLifecycleSnapshot(ctx context.Context, serial string) (*models.Registration, *models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *regEntry
	for _, e := range s.regs {
		if e.reg.Serial != serial {
			continue
		}
		if best == nil || snapshotLess(best, e) {
			best = e
		}
	}

	var reg *models.Registration
	if best != nil {
		reg = cloneRegistration(best.reg)
	}
	var cart *models.Cart
	if c, ok := s.carts[serial]; ok {
		cart = cloneCart(c)
	}
	return reg, cart, nil
}

// snapshotLess ranks b above a with the lookup preference: ACTIVE first,
// then latest coverage end, then latest creation.
func snapshotLess(a, b *regEntry) bool {
	aActive := a.reg.Status == models.RegistrationStatusActive
	bActive := b.reg.Status == models.RegistrationStatusActive
	if aActive != bActive {
		return bActive
	}
	if !a.reg.Coverage.End.Equal(b.reg.Coverage.End) {
		return a.reg.Coverage.End.Before(b.reg.Coverage.End)
	}
	if !a.reg.CreatedAt.Equal(b.reg.CreatedAt) {
		return a.reg.CreatedAt.Before(b.reg.CreatedAt)
	}
	return a.seq < b.seq
}

func (s *Storage) ListCartEvents(ctx context.Context, serial string, limit, offset int) ([]*models.CartEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.events[serial]
	var out []*models.CartEvent
	// Newest first, like the SQL ordering.
	for i := len(evs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *evs[i]
		out = append(out, &cp)
	}
	return out, nil
}
