// Package memory is an in-process ledger with the same transactional
// guarantees as the PostgreSQL repositories. It backs tests and local runs
// without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fundly/internal/reconcile"
	"fundly/pkg/domain"
	"fundly/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type totalKey struct {
	campaignID uuid.UUID
	currency   domain.Currency
}

// Store holds donations, campaigns and totals behind one lock.
type Store struct {
	mu        sync.Mutex
	donations map[string]*domain.Donation
	campaigns map[uuid.UUID]*domain.Campaign
	totals    map[totalKey]*domain.CampaignTotal
}

func New() *Store {
	return &Store{
		donations: make(map[string]*domain.Donation),
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		totals:    make(map[totalKey]*domain.CampaignTotal),
	}
}

func (s *Store) Donations() *DonationStore { return &DonationStore{s: s} }
func (s *Store) Campaigns() *CampaignStore { return &CampaignStore{s: s} }

// DonationStore implements reconcile.Store.
type DonationStore struct {
	s *Store
}

func (r *DonationStore) Create(ctx context.Context, d *domain.Donation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.donations[d.TransactionReference]; ok {
		return errors.ErrDonationAlreadyExists
	}
	r.s.donations[d.TransactionReference] = d.Clone()
	return nil
}

func (r *DonationStore) FindByReference(ctx context.Context, ref string) (*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.donations[ref]
	if !ok {
		return nil, errors.ErrUnknownTransaction
	}
	return d.Clone(), nil
}

func (r *DonationStore) SetProviderReference(ctx context.Context, ref, providerRef string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.donations[ref]
	if !ok {
		return errors.ErrUnknownTransaction
	}
	if d.ProviderReference == nil {
		d.ProviderReference = &providerRef
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *DonationStore) FindStalePending(ctx context.Context, createdBefore time.Time, after *reconcile.StaleCursor, limit int) ([]*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Donation
	for _, d := range r.s.donations {
		if d.Status != domain.DonationStatusPending || !d.CreatedAt.Before(createdBefore) {
			continue
		}
		if after != nil && !staleAfter(d, after) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransactionReference < out[j].TransactionReference
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func staleAfter(d *domain.Donation, c *reconcile.StaleCursor) bool {
	if d.CreatedAt.Equal(c.CreatedAt) {
		return d.TransactionReference > c.Reference
	}
	return d.CreatedAt.After(c.CreatedAt)
}

func (r *DonationStore) List(ctx context.Context, filter domain.DonationFilter) ([]*domain.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Donation
	for _, d := range r.s.donations {
		if filter.GeneralOnly && d.CampaignID != nil {
			continue
		}
		if filter.CampaignID != nil && (d.CampaignID == nil || *d.CampaignID != *filter.CampaignID) {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	sortNewestFirst(out)
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *DonationStore) Stats(ctx context.Context, recent int) (*domain.DashboardStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := &domain.DashboardStats{RaisedByCurrency: make(map[domain.Currency]decimal.Decimal)}
	for _, cur := range domain.SupportedCurrencies {
		stats.RaisedByCurrency[cur] = decimal.Zero
	}

	var successes []*domain.Donation
	for _, d := range r.s.donations {
		if d.Status != domain.DonationStatusSuccess {
			continue
		}
		stats.TotalDonations++
		stats.RaisedByCurrency[d.Currency] = stats.RaisedByCurrency[d.Currency].Add(d.Amount)
		successes = append(successes, d.Clone())
	}
	for _, c := range r.s.campaigns {
		if c.IsActive {
			stats.ActiveCampaigns++
		}
	}

	sortNewestFirst(successes)
	stats.RecentDonations = page(successes, recent, 0)
	return stats, nil
}

// Atomically runs fn holding the store lock. Writes made through the Tx
// are undone when fn returns an error.
func (r *DonationStore) Atomically(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx := &memTx{s: r.s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) Transition(ctx context.Context, ref string, from, to domain.DonationStatus, at time.Time) (*domain.Donation, bool, error) {
	d, ok := t.s.donations[ref]
	if !ok {
		return nil, false, errors.ErrUnknownTransaction
	}
	if d.Status != from {
		return nil, false, nil
	}

	prev := d.Clone()
	t.undo = append(t.undo, func() { t.s.donations[ref] = prev })

	next := d.Clone()
	next.Status = to
	next.UpdatedAt = at
	if to.IsTerminal() {
		settled := at
		next.SettledAt = &settled
	}
	t.s.donations[ref] = next
	return next.Clone(), true, nil
}

func (t *memTx) IncrementRaised(ctx context.Context, campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) error {
	if _, ok := t.s.campaigns[campaignID]; !ok {
		return errors.ErrCampaignNotFound
	}

	key := totalKey{campaignID, currency}
	total, ok := t.s.totals[key]
	if !ok {
		t.undo = append(t.undo, func() { delete(t.s.totals, key) })
		t.s.totals[key] = &domain.CampaignTotal{
			CampaignID:    campaignID,
			Currency:      currency,
			GoalAmount:    decimal.Zero,
			CurrentRaised: amount,
		}
		return nil
	}

	prev := total.CurrentRaised
	t.undo = append(t.undo, func() { total.CurrentRaised = prev })
	total.CurrentRaised = total.CurrentRaised.Add(amount)
	return nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// CampaignStore implements campaign.Repository and campaign.TotalsSource.
type CampaignStore struct {
	s *Store
}

func (r *CampaignStore) Create(ctx context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.campaigns {
		if existing.Slug == c.Slug {
			return errors.ErrCampaignAlreadyExists
		}
	}
	stored := *c
	stored.Totals = nil
	r.s.campaigns[c.ID] = &stored
	for _, t := range c.Totals {
		t := t
		t.CampaignID = c.ID
		r.s.totals[totalKey{c.ID, t.Currency}] = &t
	}
	return nil
}

func (r *CampaignStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, errors.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignStore) FindBySlug(ctx context.Context, slug string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.campaigns {
		if strings.EqualFold(c.Slug, slug) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.ErrCampaignNotFound
}

func (r *CampaignStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := r.FindBySlug(ctx, slug)
	if err == errors.ErrCampaignNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *CampaignStore) ListActive(ctx context.Context, limit, offset int) ([]*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Campaign
	for _, c := range r.s.campaigns {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *CampaignStore) Totals(ctx context.Context, campaignID uuid.UUID) ([]domain.CampaignTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.CampaignTotal
	for k, t := range r.s.totals {
		if k.campaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r *CampaignStore) IncrementalTotals(ctx context.Context) ([]domain.CampaignTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]domain.CampaignTotal, 0, len(r.s.totals))
	for _, t := range r.s.totals {
		out = append(out, *t)
	}
	return out, nil
}

func (r *CampaignStore) RecomputedTotals(ctx context.Context) ([]domain.CampaignTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sums := make(map[totalKey]decimal.Decimal)
	for _, d := range r.s.donations {
		if d.Status != domain.DonationStatusSuccess || d.CampaignID == nil {
			continue
		}
		k := totalKey{*d.CampaignID, d.Currency}
		sums[k] = sums[k].Add(d.Amount)
	}

	out := make([]domain.CampaignTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, domain.CampaignTotal{CampaignID: k.campaignID, Currency: k.currency, CurrentRaised: v})
	}
	return out, nil
}

// SetRaised overwrites a total. It exists to simulate drift in tests and
// seed local data.
func (r *CampaignStore) SetRaised(campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := totalKey{campaignID, currency}
	if t, ok := r.s.totals[key]; ok {
		t.CurrentRaised = amount
		return
	}
	r.s.totals[key] = &domain.CampaignTotal{CampaignID: campaignID, Currency: currency, CurrentRaised: amount}
}

func sortNewestFirst(ds []*domain.Donation) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].CreatedAt.After(ds[j].CreatedAt) })
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
