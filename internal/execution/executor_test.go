package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/swing-trader/internal/capital"
	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/internal/scheduler"
	"github.com/kirillm/swing-trader/internal/storage/memory"
	"github.com/kirillm/swing-trader/internal/telegram"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// среда, 14:00 в Нью-Йорке
var testNow = time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

var today = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu        sync.Mutex
	messages  []string
	audiences []string
}

func (n *recordingNotifier) BroadcastToSubscribers(_ context.Context, message, audience string) []telegram.DeliveryResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	n.audiences = append(n.audiences, audience)
	return []telegram.DeliveryResult{{ChatID: 1, Delivered: true}}
}

type failingTrades struct {
	*memory.Store
}

func (f failingTrades) InsertTrade(context.Context, *domain.Trade, string) (*domain.Trade, error) {
	return nil, errors.New("insert failed")
}

type recordingScheduler struct {
	names []string
}

func (r *recordingScheduler) Schedule(name, spec, timezone string, handler scheduler.Handler) error {
	r.names = append(r.names, name)
	return nil
}

type fixture struct {
	store    *memory.Store
	ledger   *capital.Ledger
	notifier *recordingNotifier
	executor *Executor
}

func newFixture(t *testing.T, wrap func(*memory.Store) domain.TradeStore) *fixture {
	t.Helper()
	store := memory.New().WithClock(func() time.Time { return testNow })
	var trades domain.TradeStore = store
	if wrap != nil {
		trades = wrap(store)
	}
	registry := market.MustDefaultRegistry()
	limits := config.DefaultEngineConfig()
	ledger := capital.NewLedger(store, store, registry, limits, utils.NewNopLogger())
	require.NoError(t, ledger.SeedMarkets(context.Background()))

	notifier := &recordingNotifier{}
	executor := NewExecutor(Deps{
		Signals:  store,
		Trades:   trades,
		Runs:     store,
		Ledger:   ledger,
		Notifier: notifier,
		Registry: registry,
		Limits:   limits,
		Now:      func() time.Time { return testNow },
	})
	return &fixture{store: store, ledger: ledger, notifier: notifier, executor: executor}
}

func (f *fixture) signal(symbol string, date time.Time) int64 {
	return f.store.AddSignal(domain.Signal{
		Symbol:      symbol,
		Market:      "US",
		EntryPrice:  100,
		TargetPrice: 108,
		WinRate:     72.5,
		SignalDate:  date,
	})
}

func TestExecuteMarketSignals_OpensTrade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.signal("AAPL", today)

	summary := f.executor.ExecuteMarketSignals(ctx, "US")
	require.Equal(t, 1, summary.Executed)
	assert.Equal(t, TriggerScheduled, summary.Trigger)
	assert.NotEmpty(t, summary.RunID)

	sig, _ := f.store.GetSignal(id)
	assert.Equal(t, domain.SignalStatusAdded, sig.Status)
	require.NotNil(t, sig.LinkedTradeID)

	trade, ok := f.store.GetTrade(*sig.LinkedTradeID)
	require.True(t, ok)
	assert.Equal(t, 500.0, trade.TradeSize)
	assert.Equal(t, 5.0, trade.Quantity)
	assert.Equal(t, "USD", trade.Currency)
	assert.Equal(t, today, trade.EntryDate)
	assert.True(t, trade.AutoAdded)
	assert.Equal(t, domain.OwnerAutoExecutor, trade.OwnerRef)

	rows, _ := f.store.GetPortfolioCapital(ctx)
	assert.Equal(t, 500.0, rows["US"].Allocated)

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, "US", f.notifier.audiences[0])
	assert.Contains(t, f.notifier.messages[0], "AAPL")

	runs, _ := f.store.GetRecentExecutionRuns(ctx, 10)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Len(t, f.executor.History(), 1)
}

func TestExecuteMarketSignals_IgnoresOlderSignals(t *testing.T) {
	f := newFixture(t, nil)
	id := f.signal("AAPL", today.AddDate(0, 0, -1))

	summary := f.executor.ExecuteMarketSignals(context.Background(), "US")
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, f.notifier.messages)

	sig, _ := f.store.GetSignal(id)
	assert.Equal(t, domain.SignalStatusPending, sig.Status)
}

func TestExecuteMarketSignals_LastSlotGoesToFirstSignal(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetCapital(domain.PortfolioCapital{
		Market: "US", Currency: "USD", InitialCapital: 5000, RealizedPL: -800,
		Allocated: 200, PositionCount: 9, MaxPositions: 10,
	})
	first := f.signal("AAPL", today)
	second := f.signal("MSFT", today)

	summary := f.executor.ExecuteMarketSignals(context.Background(), "US")
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 1, summary.Skipped)

	executedItems := summary.Items(OutcomeExecuted)
	require.Len(t, executedItems, 1)
	assert.Equal(t, "AAPL", executedItems[0].Symbol)
	assert.Equal(t, 420.0, executedItems[0].TradeSize)

	skippedItems := summary.Items(OutcomeSkipped)
	require.Len(t, skippedItems, 1)
	assert.Equal(t, domain.CodeMarketLimit, skippedItems[0].Code)

	s1, _ := f.store.GetSignal(first)
	s2, _ := f.store.GetSignal(second)
	assert.Equal(t, domain.SignalStatusAdded, s1.Status)
	assert.Equal(t, domain.SignalStatusDismissed, s2.Status)
}

func TestExecuteMarketSignals_DuplicateIsFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.InsertTrade(ctx, &domain.Trade{Symbol: "AAPL", Market: "US", TradeSize: 500}, "manual")
	require.NoError(t, err)
	id := f.signal("AAPL", today)

	summary := f.executor.ExecuteMarketSignals(ctx, "US")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.CodeDuplicatePosition, summary.Outcomes[0].Code)

	sig, _ := f.store.GetSignal(id)
	assert.Equal(t, domain.SignalStatusDismissed, sig.Status)
	assert.Len(t, f.notifier.messages, 1)
}

func TestExecuteMarketSignals_QuietDayNotNotified(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetCapital(domain.PortfolioCapital{
		Market: "US", Currency: "USD", InitialCapital: 5000, PositionCount: 10, MaxPositions: 10,
	})
	f.signal("AAPL", today)

	summary := f.executor.ExecuteMarketSignals(context.Background(), "US")
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, f.notifier.messages)
}

func TestExecuteMarketSignals_RollsBackAllocationOnInsertFailure(t *testing.T) {
	f := newFixture(t, func(s *memory.Store) domain.TradeStore { return failingTrades{s} })
	id := f.signal("AAPL", today)
	f.signal("MSFT", today)

	summary := f.executor.ExecuteMarketSignals(context.Background(), "US")
	assert.Equal(t, 2, summary.Failed)

	rows, _ := f.store.GetPortfolioCapital(context.Background())
	assert.Equal(t, 0.0, rows["US"].Allocated)
	assert.Equal(t, 0, rows["US"].PositionCount)

	sig, _ := f.store.GetSignal(id)
	assert.Equal(t, domain.SignalStatusPending, sig.Status)
}

func TestExecuteMarketSignals_FailureDoesNotAbortRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.InsertTrade(ctx, &domain.Trade{Symbol: "AAPL", Market: "US", TradeSize: 500}, "manual")
	require.NoError(t, err)
	f.signal("AAPL", today)
	f.signal("MSFT", today)

	summary := f.executor.ManualExecute(ctx, "us")
	assert.Equal(t, TriggerManual, summary.Trigger)
	assert.Equal(t, "US", summary.Market)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Executed)
}

func TestExecuteMarketSignals_UnknownMarket(t *testing.T) {
	f := newFixture(t, nil)
	summary := f.executor.ExecuteMarketSignals(context.Background(), "JP")
	assert.Equal(t, 0, summary.Total)
	assert.Contains(t, summary.Note, "unknown market")
}

func TestExecuteMarketSignals_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ok, err := f.store.AcquireLease(ctx, domain.LeaseExecutePrefix+"US", "other-instance", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	f.executor.guard = scheduler.NewLeaseGuard(f.store, "this-instance", time.Minute, utils.NewNopLogger())
	id := f.signal("AAPL", today)

	summary := f.executor.ExecuteMarketSignals(ctx, "US")
	assert.Equal(t, 0, summary.Total)
	assert.Contains(t, summary.Note, domain.ErrLeaseHeld.Error())

	sig, _ := f.store.GetSignal(id)
	assert.Equal(t, domain.SignalStatusPending, sig.Status)
}

func TestExecutor_HistoryIsCapped(t *testing.T) {
	f := newFixture(t, nil)
	f.executor.logLimit = 2
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		f.signal(sym, today)
		f.executor.ExecuteMarketSignals(ctx, "US")
	}

	history := f.executor.History()
	require.Len(t, history, 2)
	assert.Equal(t, "MSFT", history[0].Outcomes[0].Symbol)
	assert.Equal(t, "NVDA", history[1].Outcomes[0].Symbol)
}

func TestExecutor_InitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	triggers := &recordingScheduler{}

	require.NoError(t, f.executor.Initialize(triggers))
	require.NoError(t, f.executor.Initialize(triggers))

	assert.ElementsMatch(t, []string{"execute:IN", "execute:UK", "execute:US"}, triggers.names)
}

// cancellingStore отменяет контекст сразу после резерва капитала; записи
// после этого отказывают на отменённом контексте как настоящий драйвер
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) AllocateCapital(ctx context.Context, market string, amount float64, maxTotalPositions int) error {
	err := s.Store.AllocateCapital(ctx, market, amount, maxTotalPositions)
	s.cancel()
	return err
}

func (s *cancellingStore) InsertTrade(ctx context.Context, trade *domain.Trade, ownerRef string) (*domain.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.InsertTrade(ctx, trade, ownerRef)
}

func (s *cancellingStore) UpdateSignalStatus(ctx context.Context, id int64, status string, linkedTradeID *int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateSignalStatus(ctx, id, status, linkedTradeID)
}

func (s *cancellingStore) ReleaseCapital(ctx context.Context, market string, amount, plAmount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.ReleaseCapital(ctx, market, amount, plAmount)
}

func (s *cancellingStore) SaveExecutionRun(ctx context.Context, run *domain.ExecutionRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.SaveExecutionRun(ctx, run)
}

func TestExecuteMarketSignals_CancelMidRunKeepsCapitalConsistent(t *testing.T) {
	f := newFixture(t, nil)
	first := f.signal("AAPL", today)
	second := f.signal("MSFT", today)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wrapped := &cancellingStore{Store: f.store, cancel: cancel}
	registry := market.MustDefaultRegistry()
	limits := config.DefaultEngineConfig()
	executor := NewExecutor(Deps{
		Signals:  wrapped,
		Trades:   wrapped,
		Runs:     wrapped,
		Ledger:   capital.NewLedger(wrapped, wrapped, registry, limits, utils.NewNopLogger()),
		Notifier: f.notifier,
		Registry: registry,
		Limits:   limits,
		Now:      func() time.Time { return testNow },
	})

	summary := executor.ExecuteMarketSignals(ctx, "US")
	require.Error(t, ctx.Err())
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, 1, summary.Failed)

	sig, _ := f.store.GetSignal(first)
	assert.Equal(t, domain.SignalStatusAdded, sig.Status)
	require.NotNil(t, sig.LinkedTradeID)
	_, ok := f.store.GetTrade(*sig.LinkedTradeID)
	assert.True(t, ok)

	// второй сигнал не начат и остаётся в очереди
	sig, _ = f.store.GetSignal(second)
	assert.Equal(t, domain.SignalStatusPending, sig.Status)

	rows, _ := f.store.GetPortfolioCapital(context.Background())
	assert.Equal(t, 500.0, rows["US"].Allocated)
	assert.Equal(t, 1, rows["US"].PositionCount)

	runs, _ := f.store.GetRecentExecutionRuns(context.Background(), 10)
	assert.Len(t, runs, 1)
}
