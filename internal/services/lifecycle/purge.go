package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/warranty"
)

// PlanPurge selects registrations matching any populated filter member: an
// explicit id, an order-ref prefix, an email domain (case-insensitive), or
// a creation date strictly before the cutoff. It scans one bounded page of
// the ledger, so very old backlogs are purged in repeated runs. An empty
// filter matches nothing — bulk delete must be asked for explicitly.
func (s *Service) PlanPurge(ctx context.Context, f models.PurgeFilter) ([]string, error) {
	var cutoff time.Time
	if f.CreatedBefore != "" {
		var err error
		cutoff, err = warranty.ParseDate(f.CreatedBefore)
		if err != nil {
			return nil, err
		}
	}

	if len(f.IDs) == 0 && f.OrderRefPrefix == "" && f.EmailDomain == "" && cutoff.IsZero() {
		return nil, nil
	}

	idSet := make(map[string]struct{}, len(f.IDs))
	for _, id := range f.IDs {
		idSet[id] = struct{}{}
	}
	domainSuffix := ""
	if f.EmailDomain != "" {
		domainSuffix = "@" + strings.ToLower(f.EmailDomain)
	}

	regs, err := s.repo.ScanRegistrations(ctx, s.st.PurgeScanLimit)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, reg := range regs {
		if purgeMatch(reg, idSet, f.OrderRefPrefix, domainSuffix, cutoff) {
			ids = append(ids, reg.ID)
		}
	}
	return ids, nil
}

func purgeMatch(reg *models.Registration, idSet map[string]struct{}, refPrefix, domainSuffix string, cutoff time.Time) bool {
	if _, ok := idSet[reg.ID]; ok {
		return true
	}
	if refPrefix != "" && reg.OrderRef != "" && strings.HasPrefix(reg.OrderRef, refPrefix) {
		return true
	}
	if domainSuffix != "" && strings.HasSuffix(strings.ToLower(reg.Customer.Email), domainSuffix) {
		return true
	}
	if !cutoff.IsZero() {
		// Records imported before created_at existed fall back to the
		// purchase date.
		derived := reg.CreatedAt
		if derived.IsZero() {
			derived = reg.Coverage.Start
		}
		if !derived.IsZero() && derived.Before(cutoff) {
			return true
		}
	}
	return false
}

// ExecutePurge deletes the planned ids in store-sized batches. Purge is
// atomic per batch only: a mid-run failure reports the count deleted so
// far and is never rolled back.
func (s *Service) ExecutePurge(ctx context.Context, ids []string) (int64, error) {
	var total int64
	for len(ids) > 0 {
		n := s.st.PurgeBatchSize
		if n > len(ids) {
			n = len(ids)
		}
		deleted, err := s.repo.DeleteRegistrations(ctx, ids[:n])
		total += deleted
		if err != nil {
			return total, err
		}
		ids = ids[n:]
	}
	return total, nil
}
