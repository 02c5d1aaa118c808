package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/swing-trader/internal/domain"
)

func TestAllocateCapital_Conditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetCapital(domain.PortfolioCapital{Market: "UK", Currency: "GBP", InitialCapital: 1000, MaxPositions: 2})
	s.SetCapital(domain.PortfolioCapital{Market: "US", Currency: "USD", InitialCapital: 5000, PositionCount: 3, MaxPositions: 10})

	tests := []struct {
		name     string
		amount   float64
		maxTotal int
		wantErr  bool
	}{
		{"fits", 400, 30, false},
		{"second fits", 400, 30, false},
		{"market slots exhausted", 100, 30, true},
	}
	for _, tt := range tests {
		err := s.AllocateCapital(ctx, "UK", tt.amount, tt.maxTotal)
		if tt.wantErr {
			assert.True(t, errors.Is(err, domain.ErrAllocationRejected), tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
	}

	assert.True(t, errors.Is(s.AllocateCapital(ctx, "US", 6000, 30), domain.ErrAllocationRejected))
	assert.True(t, errors.Is(s.AllocateCapital(ctx, "US", 10, 5), domain.ErrAllocationRejected))

	rows, _ := s.GetPortfolioCapital(ctx)
	assert.Equal(t, 800.0, rows["UK"].Allocated)
	assert.Equal(t, 2, rows["UK"].PositionCount)
}

func TestCloseTrade_OneWay(t *testing.T) {
	ctx := context.Background()
	s := New()

	tr, err := s.InsertTrade(ctx, &domain.Trade{Symbol: "AAPL", Market: "US"}, "test")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusActive, tr.Status)

	_, err = s.InsertTrade(ctx, &domain.Trade{Symbol: "aapl", Market: "US"}, "test")
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))

	exit := domain.TradeExit{ExitDate: time.Now(), ExitPrice: 10, ProfitLossPercent: 1, ExitReason: "x"}
	require.NoError(t, s.CloseTrade(ctx, tr.ID, exit))
	assert.True(t, errors.Is(s.CloseTrade(ctx, tr.ID, exit), domain.ErrTradeNotActive))
	assert.True(t, errors.Is(s.CloseTrade(ctx, 999, exit), domain.ErrNotFound))

	active, err := s.GetActiveTradeBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLease_ExpiryAndOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })

	ok, err := s.AcquireLease(ctx, "monitor", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.AcquireLease(ctx, "monitor", "b", time.Minute)
	assert.False(t, ok)

	// re-entrant for the holder
	ok, _ = s.AcquireLease(ctx, "monitor", "a", time.Minute)
	assert.True(t, ok)

	// foreign release is ignored
	require.NoError(t, s.ReleaseLease(ctx, "monitor", "b"))
	ok, _ = s.AcquireLease(ctx, "monitor", "b", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.AcquireLease(ctx, "monitor", "b", time.Minute)
	assert.True(t, ok)
}

func TestWasAlertSent(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.RecordExitCheck(ctx, &domain.ExitCheckRecord{TradeID: 1}))
	sent, _ := s.WasAlertSent(ctx, 1, domain.ExitTypeStopLoss)
	assert.False(t, sent)

	require.NoError(t, s.RecordExitCheck(ctx, &domain.ExitCheckRecord{TradeID: 1, AlertSent: true, AlertType: domain.ExitTypeStopLoss}))
	sent, _ = s.WasAlertSent(ctx, 1, domain.ExitTypeStopLoss)
	assert.True(t, sent)

	sent, _ = s.WasAlertSent(ctx, 1, domain.ExitTypeTarget)
	assert.False(t, sent)
	assert.Len(t, s.ExitChecks(1), 2)
}

func TestAllocateCapital_ConcurrentLastSlot(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetCapital(domain.PortfolioCapital{Market: "UK", Currency: "GBP", InitialCapital: 4000, Allocated: 3600, PositionCount: 9, MaxPositions: 10})
	s.SetCapital(domain.PortfolioCapital{Market: "US", Currency: "USD", InitialCapital: 5000, Allocated: 4500, PositionCount: 9, MaxPositions: 10})

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 10; i++ {
		market := "US"
		if i%2 == 0 {
			market = "UK"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AllocateCapital(ctx, market, 400, 19); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	rows, _ := s.GetPortfolioCapital(ctx)
	assert.Equal(t, 19, rows["UK"].PositionCount+rows["US"].PositionCount)
	assert.GreaterOrEqual(t, rows["UK"].Available(), 0.0)
	assert.GreaterOrEqual(t, rows["US"].Available(), 0.0)
}
