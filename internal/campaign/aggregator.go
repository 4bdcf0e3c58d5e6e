// Package campaign maintains per-campaign, per-currency raised totals.
package campaign

import (
	"context"
	"fmt"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Incrementer adds to a campaign total as one atomic statement. It is
// implemented by the store transaction the status transition runs in.
type Incrementer interface {
	IncrementRaised(ctx context.Context, campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) error
}

// Aggregator applies the raised-total side effect of a successful donation.
type Aggregator struct {
	logger logger.Logger
}

func NewAggregator(log logger.Logger) *Aggregator {
	return &Aggregator{logger: log}
}

// ApplyIncrement adds amount to the campaign's total in currency. Any
// failure is ErrAggregateUpdateConflict so the caller rolls back.
func (a *Aggregator) ApplyIncrement(ctx context.Context, tx Incrementer, campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %w: %s", errors.ErrAggregateUpdateConflict, errors.ErrInvalidAmount, amount)
	}
	if !currency.Valid() {
		return fmt.Errorf("%w: %w: %s", errors.ErrAggregateUpdateConflict, errors.ErrUnsupportedCurrency, currency)
	}

	if err := tx.IncrementRaised(ctx, campaignID, currency, amount); err != nil {
		a.logger.Error("Campaign increment failed", map[string]interface{}{
			"campaign_id": campaignID,
			"currency":    currency,
			"error":       err.Error(),
		})
		return fmt.Errorf("%w: campaign %s: %w", errors.ErrAggregateUpdateConflict, campaignID, err)
	}

	a.logger.Debug("Campaign total incremented", map[string]interface{}{
		"campaign_id": campaignID,
		"currency":    currency,
		"amount":      amount.String(),
	})
	return nil
}
