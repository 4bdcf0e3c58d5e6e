package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) Settle(ctx context.Context, ref string) (*domain.Donation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Donation), args.Error(1)
}

type MockStaleFinder struct {
	mock.Mock
}

func (m *MockStaleFinder) FindStalePending(ctx context.Context, createdBefore time.Time, after *StaleCursor, limit int) ([]*domain.Donation, error) {
	args := m.Called(ctx, createdBefore, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Donation), args.Error(1)
}

func pending(ref string) *domain.Donation {
	return &domain.Donation{TransactionReference: ref, Status: domain.DonationStatusPending}
}

func withStatus(ref string, s domain.DonationStatus) *domain.Donation {
	return &domain.Donation{TransactionReference: ref, Status: s}
}

func TestSweep_SettlesEachStaleDonation(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	finder.On("FindStalePending", mock.Anything, now.Add(-15*time.Minute), (*StaleCursor)(nil), 50).
		Return([]*domain.Donation{pending("tx-1"), pending("tx-2"), pending("tx-3"), pending("tx-4")}, nil)
	settler.On("Settle", mock.Anything, "tx-1").Return(withStatus("tx-1", domain.DonationStatusSuccess), nil)
	settler.On("Settle", mock.Anything, "tx-2").Return(withStatus("tx-2", domain.DonationStatusFailed), nil)
	settler.On("Settle", mock.Anything, "tx-3").Return(nil, fmt.Errorf("verify: %w", errors.ErrGatewayUnavailable))
	settler.On("Settle", mock.Anything, "tx-4").Return(withStatus("tx-4", domain.DonationStatusPending), nil)

	s := NewSweeper(settler, finder, SweepConfig{StaleAfter: 15 * time.Minute, BatchSize: 50}, logger.NewNop())
	s.now = func() time.Time { return now }

	report, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Examined: 4, Succeeded: 1, Failed: 1, StillPending: 1, Errors: 1}, report)
	settler.AssertExpectations(t)
	finder.AssertExpectations(t)
}

func TestSweep_ResumesAfterLastExamined(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stuck1 := &domain.Donation{TransactionReference: "tx-1", Status: domain.DonationStatusPending, CreatedAt: t0}
	stuck2 := &domain.Donation{TransactionReference: "tx-2", Status: domain.DonationStatusPending, CreatedAt: t0.Add(time.Minute)}
	paid := &domain.Donation{TransactionReference: "tx-3", Status: domain.DonationStatusPending, CreatedAt: t0.Add(2 * time.Minute)}
	afterStuck := &StaleCursor{CreatedAt: stuck2.CreatedAt, Reference: "tx-2"}
	afterPaid := &StaleCursor{CreatedAt: paid.CreatedAt, Reference: "tx-3"}

	finder.On("FindStalePending", mock.Anything, mock.Anything, (*StaleCursor)(nil), 2).
		Return([]*domain.Donation{stuck1, stuck2}, nil)
	finder.On("FindStalePending", mock.Anything, mock.Anything, afterStuck, 2).
		Return([]*domain.Donation{paid}, nil).Once()
	settler.On("Settle", mock.Anything, "tx-1").Return(stuck1, nil)
	settler.On("Settle", mock.Anything, "tx-2").Return(stuck2, nil)
	settler.On("Settle", mock.Anything, "tx-3").Return(withStatus("tx-3", domain.DonationStatusSuccess), nil).Once()

	s := NewSweeper(settler, finder, SweepConfig{BatchSize: 2}, logger.NewNop())

	first, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.StillPending)
	assert.Equal(t, afterStuck, s.cursor)

	second, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Examined: 1, Succeeded: 1}, second)
	assert.Nil(t, s.cursor, "a short page restarts from the oldest")

	third, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, third.Examined)
	finder.AssertNotCalled(t, "FindStalePending", mock.Anything, mock.Anything, afterPaid, 2)
	settler.AssertExpectations(t)
}

func TestSweep_WrapsAroundPastTheEnd(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	last := &StaleCursor{CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), Reference: "tx-9"}

	finder.On("FindStalePending", mock.Anything, mock.Anything, last, 1).Return([]*domain.Donation{}, nil).Once()
	finder.On("FindStalePending", mock.Anything, mock.Anything, (*StaleCursor)(nil), 1).
		Return([]*domain.Donation{pending("tx-1")}, nil).Once()
	settler.On("Settle", mock.Anything, "tx-1").Return(withStatus("tx-1", domain.DonationStatusPending), nil)

	s := NewSweeper(settler, finder, SweepConfig{BatchSize: 1}, logger.NewNop())
	s.cursor = last

	report, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	finder.AssertExpectations(t)
}

func TestSweep_FinderError(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	finder.On("FindStalePending", mock.Anything, mock.Anything, mock.Anything, 100).Return(nil, fmt.Errorf("connection refused"))

	s := NewSweeper(settler, finder, SweepConfig{}, logger.NewNop())
	_, err := s.Sweep(context.Background())

	assert.Error(t, err)
	settler.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything)
}

func TestSweep_StopsWhenCancelled(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	finder.On("FindStalePending", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Donation{pending("tx-1"), pending("tx-2")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	settler.On("Settle", mock.Anything, "tx-1").Run(func(mock.Arguments) { cancel() }).
		Return(withStatus("tx-1", domain.DonationStatusPending), nil)

	s := NewSweeper(settler, finder, SweepConfig{}, logger.NewNop())
	report, err := s.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	settler.AssertNotCalled(t, "Settle", mock.Anything, "tx-2")
}

func TestRun_SweepsOnTick(t *testing.T) {
	settler := new(MockSettler)
	finder := new(MockStaleFinder)
	swept := make(chan struct{}, 8)
	finder.On("FindStalePending", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return([]*domain.Donation{}, nil)

	s := NewSweeper(settler, finder, SweepConfig{Interval: 10 * time.Millisecond}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
