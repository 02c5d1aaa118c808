package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillm/swing-trader/internal/capital"
	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/internal/scheduler"
	"github.com/kirillm/swing-trader/internal/telegram"
	"github.com/kirillm/swing-trader/pkg/utils"
)

const defaultLogLimit = 500

// CapitalLedger: операции капитала, нужные исполнению
type CapitalLedger interface {
	ValidateTradeEntry(ctx context.Context, marketCode, symbol string) (capital.ValidationResult, error)
	AllocateForTrade(ctx context.Context, marketCode, symbol string, entryPrice float64) (*capital.Allocation, error)
	ReleaseAllocation(ctx context.Context, alloc *capital.Allocation) error
}

// Notifier рассылает сообщения подписчикам
type Notifier interface {
	BroadcastToSubscribers(ctx context.Context, message, audience string) []telegram.DeliveryResult
}

// Deps собирает зависимости Executor
type Deps struct {
	Signals   domain.SignalStore
	Trades    domain.TradeStore
	Runs      domain.ExecutionRunStore // опционально
	Ledger    CapitalLedger
	Notifier  Notifier // опционально
	Registry  *market.Registry
	Formatter *telegram.Formatter
	Guard     *scheduler.LeaseGuard // nil = без межпроцессной блокировки
	Limits    config.EngineConfig
	Logger    *utils.Logger
	Now       func() time.Time
}

// Executor превращает сегодняшние pending-сигналы рынка в активные сделки
type Executor struct {
	signals   domain.SignalStore
	trades    domain.TradeStore
	runs      domain.ExecutionRunStore
	ledger    CapitalLedger
	notifier  Notifier
	registry  *market.Registry
	formatter *telegram.Formatter
	guard     *scheduler.LeaseGuard
	limits    config.EngineConfig
	logger    *utils.Logger
	now       func() time.Time

	mu          sync.Mutex
	initialized bool
	running     map[string]bool
	history     []Summary
	logLimit    int
}

func NewExecutor(deps Deps) *Executor {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	formatter := deps.Formatter
	if formatter == nil {
		formatter = telegram.NewFormatter(telegram.LangEN)
	}
	return &Executor{
		signals:   deps.Signals,
		trades:    deps.Trades,
		runs:      deps.Runs,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		registry:  deps.Registry,
		formatter: formatter,
		guard:     deps.Guard,
		limits:    deps.Limits,
		logger:    logger,
		now:       now,
		running:   make(map[string]bool),
		logLimit:  defaultLogLimit,
	}
}

// Initialize регистрирует по одной задаче исполнения на каждый рынок.
// Повторный вызов ничего не регистрирует.
func (e *Executor) Initialize(triggers scheduler.Scheduler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		e.logger.Warn("⚠️ Execution scheduler already initialized, skipping")
		return nil
	}

	for _, m := range e.registry.All() {
		code := m.Code
		name := domain.LeaseExecutePrefix + code
		err := triggers.Schedule(name, m.ExecutionSchedule, m.Timezone, func(ctx context.Context) {
			e.ExecuteMarketSignals(ctx, code)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		e.logger.Info("📅 Scheduled execution for %s: %q (%s)", code, m.ExecutionSchedule, m.Location())
	}

	e.initialized = true
	return nil
}

// ExecuteMarketSignals запускает исполнение по расписанию
func (e *Executor) ExecuteMarketSignals(ctx context.Context, marketCode string) Summary {
	return e.execute(ctx, marketCode, TriggerScheduled)
}

// ManualExecute запускает тот же конвейер вручную
func (e *Executor) ManualExecute(ctx context.Context, marketCode string) Summary {
	e.logger.Info("👤 Manual execution requested for %s", marketCode)
	return e.execute(ctx, marketCode, TriggerManual)
}

// History возвращает сводки последних запусков, новые в конце
func (e *Executor) History() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Summary, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Executor) execute(ctx context.Context, marketCode string, trigger string) Summary {
	started := e.now()
	summary := Summary{
		RunID:     utils.NewRunID(),
		Market:    strings.ToUpper(marketCode),
		Trigger:   trigger,
		StartedAt: started,
	}

	m, ok := e.registry.Get(marketCode)
	if !ok {
		e.logger.Error("❌ Execution for unknown market %q", marketCode)
		summary.Note = fmt.Sprintf("%v: %s", domain.ErrUnknownMarket, marketCode)
		return summary
	}
	summary.Market = m.Code

	if !e.begin(m.Code) {
		e.logger.Warn("⏳ Execution for %s is already running, skipping", m.Code)
		summary.Note = "execution already running"
		return summary
	}
	defer e.end(m.Code)

	var outcomes []Outcome
	err := e.guard.Do(ctx, domain.LeaseExecutePrefix+m.Code, func(ctx context.Context) error {
		var err error
		outcomes, err = e.processMarket(ctx, m)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			e.logger.Info("🔒 Execution for %s runs on another instance", m.Code)
		} else {
			e.logger.Error("❌ Execution for %s failed: %v", m.Code, err)
		}
		summary.Note = err.Error()
		return summary
	}

	if len(outcomes) == 0 {
		e.logger.Info("📭 No signals for %s today", m.Code)
		return summary
	}

	summary = summarize(summary, outcomes, e.now().Sub(started))
	e.logger.Info("✅ Execution %s for %s: total=%d executed=%d failed=%d skipped=%d (%dms)",
		summary.RunID, m.Code, summary.Total, summary.Executed, summary.Failed, summary.Skipped, summary.DurationMs)

	// итоги доставляются и сохраняются даже если вызывающий уже отменил контекст
	detached := context.WithoutCancel(ctx)
	if summary.Executed > 0 || summary.Failed > 0 {
		e.notify(detached, summary)
	}
	e.record(detached, summary)
	return summary
}

func (e *Executor) begin(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[code] {
		return false
	}
	e.running[code] = true
	return true
}

func (e *Executor) end(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, code)
}

// processMarket обрабатывает сегодняшние сигналы строго по очереди:
// каждое резервирование видит результат предыдущего
func (e *Executor) processMarket(ctx context.Context, m *market.Market) ([]Outcome, error) {
	pending, err := e.signals.GetPendingSignals(ctx, domain.SignalStatusPending, m.Code)
	if err != nil {
		return nil, fmt.Errorf("load pending signals for %s: %w", m.Code, err)
	}

	today := m.Today(e.now())
	var signals []domain.Signal
	for _, sig := range pending {
		if market.SameDate(sig.SignalDate, today) {
			signals = append(signals, sig)
		}
	}
	if len(signals) == 0 {
		return nil, nil
	}

	e.logger.Info("🚀 Executing %d signal(s) for %s (%s)", len(signals), m.Code, today.Format("2006-01-02"))

	// Отмена проверяется только между сигналами: начатая цепочка
	// резерв -> сделка -> откат доводится до конца
	work := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, 0, len(signals))
	for _, sig := range signals {
		if ctx.Err() != nil {
			outcomes = append(outcomes, failed(sig, "", ctx.Err()))
			continue
		}
		outcomes = append(outcomes, e.processSignal(work, m, sig, today))
	}
	return outcomes, nil
}

func (e *Executor) processSignal(ctx context.Context, m *market.Market, sig domain.Signal, today time.Time) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("💥 Panic while executing signal #%d %s: %v\n%s", sig.ID, sig.Symbol, r, debug.Stack())
			out = failed(sig, "", fmt.Errorf("panic: %v", r))
		}
	}()

	// 1. Проверка лимитов и дубликатов
	check, err := e.ledger.ValidateTradeEntry(ctx, m.Code, sig.Symbol)
	if err != nil {
		e.logger.Error("❌ Validation of %s failed: %v", sig.Symbol, err)
		return failed(sig, "", err)
	}
	if !check.Valid {
		return e.dismiss(ctx, sig, check)
	}

	// 2. Резервирование капитала
	alloc, err := e.ledger.AllocateForTrade(ctx, m.Code, sig.Symbol, sig.EntryPrice)
	if err != nil {
		var verr *capital.ValidationError
		switch {
		case errors.As(err, &verr):
			return e.dismiss(ctx, sig, verr.Result)
		case errors.Is(err, domain.ErrAllocationRejected):
			// слот занял параллельный процесс
			return e.dismiss(ctx, sig, capital.ValidationResult{Code: domain.CodeMarketLimit, Reason: err.Error()})
		default:
			e.logger.Error("❌ Allocation for %s failed: %v", sig.Symbol, err)
			return failed(sig, "", err)
		}
	}

	// 3. Создание сделки; при ошибке резерв возвращается
	trade, err := e.trades.InsertTrade(ctx, e.buildTrade(m, sig, alloc, today), domain.OwnerAutoExecutor)
	if err != nil {
		if rbErr := e.ledger.ReleaseAllocation(ctx, alloc); rbErr != nil {
			e.logger.Error("❌ Rollback of allocation for %s failed: %v", sig.Symbol, rbErr)
		}
		e.logger.Error("❌ Failed to create trade for %s: %v", sig.Symbol, err)
		return failed(sig, "", err)
	}

	// 4. Привязка сигнала к сделке
	if err := e.signals.UpdateSignalStatus(ctx, sig.ID, domain.SignalStatusAdded, &trade.ID); err != nil {
		e.logger.Error("❌ Trade #%d created but signal #%d was not marked added: %v", trade.ID, sig.ID, err)
		res := failed(sig, "", err)
		res.TradeID = trade.ID
		return res
	}

	e.logger.Info("🟢 Opened trade #%d %s: %.2f %s @ %.4f", trade.ID, trade.Symbol, trade.TradeSize, trade.Currency, trade.EntryPrice)
	return executed(sig, trade)
}

// dismiss закрывает отклоненный сигнал. Лимиты капитала: пропуск,
// остальное (дубликат, неизвестный рынок): ошибка.
func (e *Executor) dismiss(ctx context.Context, sig domain.Signal, check capital.ValidationResult) Outcome {
	if err := e.signals.UpdateSignalStatus(ctx, sig.ID, domain.SignalStatusDismissed, nil); err != nil {
		e.logger.Error("❌ Failed to dismiss signal #%d: %v", sig.ID, err)
		return failed(sig, check.Code, err)
	}

	if check.Code.IsCapacityLimit() {
		e.logger.Info("⏭ Skipped %s: %s", sig.Symbol, check.Reason)
		return skipped(sig, check.Code, check.Reason)
	}
	e.logger.Warn("🚫 Rejected %s: %s", sig.Symbol, check.Reason)
	return failed(sig, check.Code, errors.New(check.Reason))
}

func (e *Executor) buildTrade(m *market.Market, sig domain.Signal, alloc *capital.Allocation, today time.Time) *domain.Trade {
	var quantity float64
	if sig.EntryPrice > 0 {
		quantity = decimal.NewFromFloat(alloc.Allocated).
			Div(decimal.NewFromFloat(sig.EntryPrice)).
			Round(6).
			InexactFloat64()
	}
	signalID := sig.ID

	return &domain.Trade{
		Symbol:                sig.Symbol,
		Market:                m.Code,
		Status:                domain.TradeStatusActive,
		EntryDate:             today,
		EntryPrice:            sig.EntryPrice,
		TargetPrice:           sig.TargetPrice,
		StopLossPercent:       e.limits.StopLossPercent,
		TradeSize:             alloc.Allocated,
		Quantity:              quantity,
		Currency:              alloc.Currency,
		WinRate:               sig.WinRate,
		HistoricalSignalCount: sig.HistoricalSignalCount,
		EntryDTI:              sig.EntryDTI,
		EntryDTI7DayAvg:       sig.EntryDTI7DayAvg,
		SignalID:              &signalID,
		AutoAdded:             true,
	}
}

func (e *Executor) notify(ctx context.Context, s Summary) {
	if e.notifier == nil {
		return
	}

	toItems := func(kind OutcomeKind) []telegram.DigestItem {
		var items []telegram.DigestItem
		for _, o := range s.Items(kind) {
			detail := o.Reason
			if kind == OutcomeExecuted {
				detail = fmt.Sprintf("%.2f %s (#%d)", o.TradeSize, o.Currency, o.TradeID)
			}
			items = append(items, telegram.DigestItem{Symbol: o.Symbol, Detail: detail})
		}
		return items
	}

	message := e.formatter.FormatExecutionSummary(telegram.ExecutionDigest{
		Market:   s.Market,
		Total:    s.Total,
		Executed: toItems(OutcomeExecuted),
		Failed:   toItems(OutcomeFailed),
		Skipped:  toItems(OutcomeSkipped),
		Duration: time.Duration(s.DurationMs) * time.Millisecond,
	})

	results := e.notifier.BroadcastToSubscribers(ctx, message, s.Market)
	undelivered := 0
	for _, r := range results {
		if !r.Delivered {
			undelivered++
		}
	}
	if undelivered > 0 {
		e.logger.Warn("⚠️ Execution summary for %s not delivered to %d/%d subscriber(s)", s.Market, undelivered, len(results))
	}
}

// record добавляет сводку в журнал и сохраняет ее в хранилище.
// Ошибка сохранения не влияет на результат запуска.
func (e *Executor) record(ctx context.Context, s Summary) {
	e.mu.Lock()
	e.history = append(e.history, s)
	if len(e.history) > e.logLimit {
		e.history = e.history[len(e.history)-e.logLimit:]
	}
	e.mu.Unlock()

	if e.runs == nil {
		return
	}
	details, err := json.Marshal(s.Outcomes)
	if err != nil {
		e.logger.Warn("⚠️ Failed to encode execution run %s: %v", s.RunID, err)
		return
	}
	run := &domain.ExecutionRun{
		ID:         s.RunID,
		Market:     s.Market,
		Trigger:    s.Trigger,
		Total:      s.Total,
		Executed:   s.Executed,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		DurationMs: s.DurationMs,
		Details:    string(details),
		StartedAt:  s.StartedAt,
	}
	if err := e.runs.SaveExecutionRun(ctx, run); err != nil {
		e.logger.Warn("⚠️ Failed to persist execution run %s: %v", s.RunID, err)
	}
}
