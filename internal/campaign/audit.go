package campaign

import (
	"context"
	"sort"
	"time"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TotalsSource yields both views of campaign totals: the incrementally
// maintained rows and a fresh sum over SUCCESS donations.
type TotalsSource interface {
	IncrementalTotals(ctx context.Context) ([]domain.CampaignTotal, error)
	RecomputedTotals(ctx context.Context) ([]domain.CampaignTotal, error)
}

type Mismatch struct {
	CampaignID  uuid.UUID       `json:"campaign_id"`
	Currency    domain.Currency `json:"currency"`
	Incremental decimal.Decimal `json:"incremental"`
	Recomputed  decimal.Decimal `json:"recomputed"`
}

type AuditReport struct {
	CheckedAt  time.Time  `json:"checked_at"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (r *AuditReport) Consistent() bool {
	return len(r.Mismatches) == 0
}

// Auditor compares incremental totals with a recompute. It reports drift
// and never rewrites a total.
type Auditor struct {
	source TotalsSource
	logger logger.Logger
	now    func() time.Time
}

func NewAuditor(source TotalsSource, log logger.Logger) *Auditor {
	return &Auditor{source: source, logger: log, now: time.Now}
}

type totalKey struct {
	campaignID uuid.UUID
	currency   domain.Currency
}

func (a *Auditor) Check(ctx context.Context) (*AuditReport, error) {
	incremental, err := a.source.IncrementalTotals(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load campaign totals")
	}
	recomputed, err := a.source.RecomputedTotals(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to recompute campaign totals")
	}

	inc := make(map[totalKey]decimal.Decimal, len(incremental))
	for _, t := range incremental {
		inc[totalKey{t.CampaignID, t.Currency}] = t.CurrentRaised
	}
	rec := make(map[totalKey]decimal.Decimal, len(recomputed))
	for _, t := range recomputed {
		rec[totalKey{t.CampaignID, t.Currency}] = t.CurrentRaised
	}

	keys := make(map[totalKey]struct{}, len(inc)+len(rec))
	for k := range inc {
		keys[k] = struct{}{}
	}
	for k := range rec {
		keys[k] = struct{}{}
	}

	report := &AuditReport{CheckedAt: a.now().UTC(), Checked: len(keys), Mismatches: []Mismatch{}}
	for k := range keys {
		i, r := inc[k], rec[k]
		if i.Equal(r) {
			continue
		}
		report.Mismatches = append(report.Mismatches, Mismatch{
			CampaignID:  k.campaignID,
			Currency:    k.currency,
			Incremental: i,
			Recomputed:  r,
		})
	}

	sort.Slice(report.Mismatches, func(x, y int) bool {
		mx, my := report.Mismatches[x], report.Mismatches[y]
		if mx.CampaignID != my.CampaignID {
			return mx.CampaignID.String() < my.CampaignID.String()
		}
		return mx.Currency < my.Currency
	})

	for _, m := range report.Mismatches {
		a.logger.Error("Campaign total drift detected", map[string]interface{}{
			"campaign_id": m.CampaignID,
			"currency":    m.Currency,
			"incremental": m.Incremental.String(),
			"recomputed":  m.Recomputed.String(),
		})
	}

	return report, nil
}
