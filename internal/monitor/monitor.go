// Package monitor periodically re-prices active trades and closes the ones
// that hit an exit rule, returning their capital to the ledger.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
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

// PriceQuoteService returns the latest price for a symbol.
type PriceQuoteService interface {
	FetchCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// CapitalReleaser books a closed trade back into its market.
type CapitalReleaser interface {
	ReleaseFromTrade(ctx context.Context, trade *domain.Trade) (*capital.Release, error)
}

// Notifier рассылает сообщения подписчикам
type Notifier interface {
	BroadcastToSubscribers(ctx context.Context, message, audience string) []telegram.DeliveryResult
}

type Deps struct {
	Trades       domain.TradeStore
	Audit        domain.ExitCheckAudit
	Ledger       CapitalReleaser
	Quotes       PriceQuoteService
	Notifier     Notifier // опционально
	Registry     *market.Registry
	Formatter    *telegram.Formatter
	Guard        *scheduler.LeaseGuard
	Limits       config.EngineConfig
	MarketHours  bool          // пропускать сделки закрытых рынков
	QuoteTimeout time.Duration // 0 = без отдельного таймаута
	Logger       *utils.Logger
	Now          func() time.Time
}

// Decision describes what one check did to a trade.
type Decision struct {
	TradeID      int64            `json:"trade_id"`
	Symbol       string           `json:"symbol"`
	CurrentPrice float64          `json:"current_price,omitempty"`
	PLPercent    float64          `json:"pl_percent"`
	HoldingDays  int              `json:"holding_days"`
	Flags        domain.ExitFlags `json:"flags"`
	ExitType     string           `json:"exit_type,omitempty"`
	Closed       bool             `json:"closed"`
	// AlreadyHandled: алерт уже отправлен или сделку закрыл другой процесс
	AlreadyHandled   bool             `json:"already_handled,omitempty"`
	PriceUnavailable bool             `json:"price_unavailable,omitempty"`
	Release          *capital.Release `json:"release,omitempty"`
}

// TickSummary: итог одного прохода монитора
type TickSummary struct {
	StartedAt  time.Time  `json:"started_at"`
	Checked    int        `json:"checked"`
	Closed     int        `json:"closed"`
	Skipped    int        `json:"skipped"` // рынок закрыт
	Errors     int        `json:"errors"`
	DurationMs int64      `json:"duration_ms"`
	Decisions  []Decision `json:"decisions"`
	Note       string     `json:"note,omitempty"`
}

// Monitor проверяет активные сделки на условия выхода
type Monitor struct {
	trades       domain.TradeStore
	audit        domain.ExitCheckAudit
	ledger       CapitalReleaser
	quotes       PriceQuoteService
	notifier     Notifier
	registry     *market.Registry
	formatter    *telegram.Formatter
	guard        *scheduler.LeaseGuard
	limits       config.EngineConfig
	marketHours  bool
	quoteTimeout time.Duration
	logger       *utils.Logger
	now          func() time.Time

	isMonitoring atomic.Bool
}

func NewMonitor(deps Deps) *Monitor {
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
	return &Monitor{
		trades:       deps.Trades,
		audit:        deps.Audit,
		ledger:       deps.Ledger,
		quotes:       deps.Quotes,
		notifier:     deps.Notifier,
		registry:     deps.Registry,
		formatter:    formatter,
		guard:        deps.Guard,
		limits:       deps.Limits,
		marketHours:  deps.MarketHours,
		quoteTimeout: deps.QuoteTimeout,
		logger:       logger,
		now:          now,
	}
}

// Initialize registers the periodic tick.
func (m *Monitor) Initialize(triggers scheduler.Scheduler, spec, timezone string) error {
	if err := triggers.Schedule(domain.LeaseMonitor, spec, timezone, func(ctx context.Context) {
		m.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}
	m.logger.Info("📅 Scheduled exit monitor: %q", spec)
	return nil
}

// Running reports whether a tick is in progress.
func (m *Monitor) Running() bool {
	return m.isMonitoring.Load()
}

// RunOnce проверяет все активные сделки. Если предыдущий проход еще идет,
// новый пропускается.
func (m *Monitor) RunOnce(ctx context.Context) TickSummary {
	started := m.now()
	summary := TickSummary{StartedAt: started}

	if !m.isMonitoring.CompareAndSwap(false, true) {
		m.logger.Warn("⏳ Exit monitor is still running, skipping tick")
		summary.Note = "monitor already running"
		return summary
	}
	defer m.isMonitoring.Store(false)

	err := m.guard.Do(ctx, domain.LeaseMonitor, func(ctx context.Context) error {
		return m.tick(ctx, &summary)
	})
	if err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			m.logger.Info("🔒 Exit monitor runs on another instance")
		} else {
			m.logger.Error("❌ Exit monitor tick failed: %v", err)
		}
		summary.Note = err.Error()
	}

	summary.DurationMs = m.now().Sub(started).Milliseconds()
	if summary.Checked > 0 {
		m.logger.Info("🔍 Exit monitor: checked=%d closed=%d skipped=%d errors=%d (%dms)",
			summary.Checked, summary.Closed, summary.Skipped, summary.Errors, summary.DurationMs)
	}
	return summary
}

func (m *Monitor) tick(ctx context.Context, summary *TickSummary) error {
	trades, err := m.trades.GetActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}

	now := m.now()
	for i := range trades {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trade := trades[i]

		if m.marketHours {
			if mk, ok := m.marketOf(&trade); ok && !mk.IsOpen(now) {
				summary.Skipped++
				continue
			}
		}

		summary.Checked++
		decision, err := m.safeCheck(ctx, &trade)
		if err != nil {
			summary.Errors++
			m.logger.Error("❌ Exit check for trade #%d %s failed: %v", trade.ID, trade.Symbol, err)
			continue
		}
		if decision.Closed {
			summary.Closed++
		}
		summary.Decisions = append(summary.Decisions, *decision)
	}
	return nil
}

// safeCheck изолирует панику одной сделки от остальных
func (m *Monitor) safeCheck(ctx context.Context, trade *domain.Trade) (d *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("💥 Panic while checking trade #%d: %v\n%s", trade.ID, r, debug.Stack())
			d, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return m.CheckTradeExit(ctx, trade)
}

func (m *Monitor) marketOf(trade *domain.Trade) (*market.Market, bool) {
	code := trade.Market
	if code == "" {
		code = m.registry.Resolve(trade.Symbol)
	}
	return m.registry.Get(code)
}

// CheckTradeExit evaluates the exit rules for one trade and closes it when
// one fires. Priority is target, stop loss, max holding days, square-off.
// An unavailable quote is not an error: the trade is left for the next tick.
func (m *Monitor) CheckTradeExit(ctx context.Context, trade *domain.Trade) (*Decision, error) {
	decision := &Decision{TradeID: trade.ID, Symbol: trade.Symbol}

	mk, ok := m.marketOf(trade)
	if !ok {
		return nil, fmt.Errorf("%w: trade #%d market %q", domain.ErrUnknownMarket, trade.ID, trade.Market)
	}
	if trade.EntryPrice <= 0 {
		return nil, fmt.Errorf("%w: trade #%d has entry price %.4f", domain.ErrDataIntegrity, trade.ID, trade.EntryPrice)
	}

	// 1. Котировка
	price, err := m.fetchPrice(ctx, trade.Symbol)
	if err != nil {
		m.logger.Warn("⚠️ No quote for %s, will retry next tick: %v", trade.Symbol, err)
		decision.PriceUnavailable = true
		return decision, nil
	}
	decision.CurrentPrice = price

	// Дальше цепочка закрытие -> возврат капитала -> алерт не прерывается отменой
	ctx = context.WithoutCancel(ctx)

	// 2. Правила выхода. Пороги сравниваются с неокруглённым P&L.
	today := mk.Today(m.now())
	pl := plPercent(trade.EntryPrice, price)
	decision.PLPercent = pl.Round(4).InexactFloat64()
	decision.HoldingDays = market.DaysBetween(trade.EntryDate, today)
	decision.Flags = m.evaluate(trade, pl, decision.HoldingDays, today)
	decision.ExitType = exitType(decision.Flags)

	record := &domain.ExitCheckRecord{
		TradeID:          trade.ID,
		CurrentPrice:     price,
		PLPercent:        decision.PLPercent,
		DaysHeld:         decision.HoldingDays,
		TargetReached:    decision.Flags.TargetReached,
		StopLossHit:      decision.Flags.StopLossHit,
		MaxDaysReached:   decision.Flags.MaxDaysReached,
		SquareOffReached: decision.Flags.SquareOffReached,
		CheckTime:        m.now(),
	}

	if decision.ExitType == "" {
		if err := m.audit.RecordExitCheck(ctx, record); err != nil {
			m.logger.Warn("⚠️ Failed to record exit check for trade #%d: %v", trade.ID, err)
		}
		return decision, nil
	}

	// 3. Идемпотентность: один алерт на тип выхода
	sent, err := m.audit.WasAlertSent(ctx, trade.ID, decision.ExitType)
	if err != nil {
		return nil, fmt.Errorf("check alert history for trade #%d: %w", trade.ID, err)
	}
	if sent {
		decision.AlreadyHandled = true
		return decision, nil
	}

	// 4. Закрытие сделки
	exit := domain.TradeExit{
		ExitDate:          today,
		ExitPrice:         price,
		ProfitLossPercent: decision.PLPercent,
		ExitReason:        exitReason(decision.ExitType, decision.PLPercent, decision.HoldingDays),
	}
	if err := m.trades.CloseTrade(ctx, trade.ID, exit); err != nil {
		if errors.Is(err, domain.ErrTradeNotActive) {
			m.logger.Info("ℹ️ Trade #%d already closed elsewhere", trade.ID)
			decision.AlreadyHandled = true
			return decision, nil
		}
		return nil, fmt.Errorf("close trade #%d: %w", trade.ID, err)
	}
	decision.Closed = true
	m.logger.Info("🏁 Closed trade #%d %s: %s at %.4f (%+.2f%%, %d days)",
		trade.ID, trade.Symbol, decision.ExitType, price, decision.PLPercent, decision.HoldingDays)

	closed := *trade
	closed.Status = domain.TradeStatusClosed
	closed.ExitDate = &exit.ExitDate
	closed.ExitPrice = &exit.ExitPrice
	closed.ProfitLossPercent = &exit.ProfitLossPercent
	closed.ExitReason = &exit.ExitReason

	// 5. Возврат капитала. Сделка уже закрыта, поэтому ошибка не прерывает уведомление.
	rel, err := m.ledger.ReleaseFromTrade(ctx, &closed)
	if err != nil {
		m.logger.Error("❌ Trade #%d closed but capital was not released: %v", trade.ID, err)
	}
	decision.Release = rel

	// 6. Уведомление и отметка алерта
	plAmount := capital.ProfitLossAmount(&closed)
	if rel != nil {
		plAmount = rel.PL
	}
	m.notify(ctx, mk, &closed, decision, plAmount)

	record.AlertSent = true
	record.AlertType = decision.ExitType
	if err := m.audit.RecordExitCheck(ctx, record); err != nil {
		m.logger.Error("❌ Failed to record alert for trade #%d: %v", trade.ID, err)
	}
	return decision, nil
}

func (m *Monitor) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	if m.quoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.quoteTimeout)
		defer cancel()
	}
	price, err := m.quotes.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %.4f for %s", domain.ErrPriceUnavailable, price, symbol)
	}
	return price, nil
}

func (m *Monitor) evaluate(trade *domain.Trade, pl decimal.Decimal, days int, today time.Time) domain.ExitFlags {
	stop := m.limits.StopLossPercent
	if trade.StopLossPercent > 0 {
		stop = trade.StopLossPercent
	}

	flags := domain.ExitFlags{
		TargetReached:  pl.GreaterThanOrEqual(decimal.NewFromFloat(m.limits.TargetPercent)),
		StopLossHit:    pl.LessThanOrEqual(decimal.NewFromFloat(-stop)),
		MaxDaysReached: days >= m.limits.MaxHoldingDays,
	}
	if trade.SquareOffDate != nil {
		flags.SquareOffReached = !today.Before(market.DateIn(*trade.SquareOffDate, time.UTC))
	}
	return flags
}

func exitType(f domain.ExitFlags) string {
	switch {
	case f.TargetReached:
		return domain.ExitTypeTarget
	case f.StopLossHit:
		return domain.ExitTypeStopLoss
	case f.MaxDaysReached:
		return domain.ExitTypeMaxDays
	case f.SquareOffReached:
		return domain.ExitTypeSquareOff
	}
	return ""
}

func exitReason(exitType string, pl float64, days int) string {
	switch exitType {
	case domain.ExitTypeTarget:
		return fmt.Sprintf("Target reached (%+.2f%%)", pl)
	case domain.ExitTypeStopLoss:
		return fmt.Sprintf("Stop loss hit (%+.2f%%)", pl)
	case domain.ExitTypeMaxDays:
		return fmt.Sprintf("Max holding period reached (%d days)", days)
	case domain.ExitTypeSquareOff:
		return "Square-off date reached"
	}
	return exitType
}

func plPercent(entry, current float64) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	return decimal.NewFromFloat(current).Sub(e).
		Mul(decimal.NewFromInt(100)).
		DivRound(e, 16)
}

func (m *Monitor) notify(ctx context.Context, mk *market.Market, trade *domain.Trade, d *Decision, plAmount float64) {
	if m.notifier == nil {
		return
	}
	message := m.formatter.FormatTradeExit(telegram.ExitNotice{
		TradeID:    trade.ID,
		Symbol:     trade.Symbol,
		Market:     mk.Code,
		Currency:   mk.Currency,
		ExitType:   d.ExitType,
		EntryPrice: trade.EntryPrice,
		ExitPrice:  d.CurrentPrice,
		PLPercent:  d.PLPercent,
		PLAmount:   plAmount,
		DaysHeld:   d.HoldingDays,
	})
	for _, r := range m.notifier.BroadcastToSubscribers(ctx, message, mk.Code) {
		if !r.Delivered {
			m.logger.Warn("⚠️ Exit alert for trade #%d not delivered to %d: %s", trade.ID, r.ChatID, r.Error)
		}
	}
}
