package campaign

import (
	"context"
	"fmt"
	"testing"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockIncrementer struct {
	mock.Mock
}

func (m *MockIncrementer) IncrementRaised(ctx context.Context, campaignID uuid.UUID, currency domain.Currency, amount decimal.Decimal) error {
	return m.Called(ctx, campaignID, currency, amount).Error(0)
}

func TestApplyIncrement(t *testing.T) {
	tx := new(MockIncrementer)
	id := uuid.New()
	amount := decimal.RequireFromString("99.99")
	tx.On("IncrementRaised", mock.Anything, id, domain.ETB, amount).Return(nil)

	err := NewAggregator(logger.NewNop()).ApplyIncrement(context.Background(), tx, id, domain.ETB, amount)

	assert.NoError(t, err)
	tx.AssertExpectations(t)
}

func TestApplyIncrement_FailureIsConflict(t *testing.T) {
	tx := new(MockIncrementer)
	cause := fmt.Errorf("could not serialize access")
	tx.On("IncrementRaised", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(cause)

	err := NewAggregator(logger.NewNop()).ApplyIncrement(context.Background(), tx, uuid.New(), domain.USD, decimal.NewFromInt(1))

	assert.ErrorIs(t, err, errors.ErrAggregateUpdateConflict)
	assert.ErrorIs(t, err, cause)
}

func TestApplyIncrement_RejectsBadInput(t *testing.T) {
	tx := new(MockIncrementer)
	agg := NewAggregator(logger.NewNop())

	err := agg.ApplyIncrement(context.Background(), tx, uuid.New(), domain.USD, decimal.Zero)
	assert.ErrorIs(t, err, errors.ErrAggregateUpdateConflict)
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	err = agg.ApplyIncrement(context.Background(), tx, uuid.New(), "EUR", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, errors.ErrUnsupportedCurrency)

	tx.AssertNotCalled(t, "IncrementRaised", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
