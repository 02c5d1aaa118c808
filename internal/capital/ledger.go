// Package capital keeps per-market capital accounting: available funds,
// open-position counts, dynamic position sizing and the entry checks that
// gate every new trade.
package capital

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// TradeLookup is the part of the trade store the ledger reads.
type TradeLookup interface {
	GetActiveTradeBySymbol(ctx context.Context, symbol string) (*domain.Trade, error)
}

// MarketStatus: снимок капитала одного рынка
type MarketStatus struct {
	Market         string  `json:"market"`
	Currency       string  `json:"currency"`
	InitialCapital float64 `json:"initial_capital"`
	RealizedPL     float64 `json:"realized_pl"`
	Allocated      float64 `json:"allocated"`
	Available      float64 `json:"available"`
	PositionCount  int     `json:"position_count"`
	MaxPositions   int     `json:"max_positions"`
	NextTradeSize  float64 `json:"next_trade_size"`
}

// Status: снимок всего портфеля
type Status struct {
	PerMarket          map[string]MarketStatus `json:"per_market"`
	TotalPositions     int                     `json:"total_positions"`
	MaxTotalPositions  int                     `json:"max_total_positions"`
	UtilizationPercent float64                 `json:"utilization_percent"`
}

// ValidationResult: результат проверки входа в сделку
type ValidationResult struct {
	Valid           bool                  `json:"valid"`
	Reason          string                `json:"reason,omitempty"`
	Code            domain.ValidationCode `json:"code,omitempty"`
	TradeSize       float64               `json:"trade_size,omitempty"`
	Currency        string                `json:"currency,omitempty"`
	Shortfall       float64               `json:"shortfall,omitempty"`
	ExistingTradeID int64                 `json:"existing_trade_id,omitempty"`
}

// ValidationError carries a failed ValidationResult through error returns.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Result.Code, e.Result.Reason)
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrValidationFailed
}

// Allocation: результат резервирования капитала под сделку
type Allocation struct {
	Allocated float64 `json:"allocated"`
	Currency  string  `json:"currency"`
	Market    string  `json:"market"`
}

// Release: результат возврата капитала после закрытия сделки
type Release struct {
	Released float64 `json:"released"`
	PL       float64 `json:"pl"`
	Currency string  `json:"currency"`
	Market   string  `json:"market"`
}

// Ledger is the single source of truth for whether a trade may be opened.
type Ledger struct {
	store    domain.PortfolioCapitalStore
	trades   TradeLookup
	registry *market.Registry
	limits   config.EngineConfig
	logger   *utils.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(
	store domain.PortfolioCapitalStore,
	trades TradeLookup,
	registry *market.Registry,
	limits config.EngineConfig,
	logger *utils.Logger,
) *Ledger {
	return &Ledger{
		store:    store,
		trades:   trades,
		registry: registry,
		limits:   limits,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) marketLock(code string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[code]
	if !ok {
		m = &sync.Mutex{}
		l.locks[code] = m
	}
	return m
}

func (l *Ledger) maxPositions(row domain.PortfolioCapital) int {
	if row.MaxPositions > 0 {
		return row.MaxPositions
	}
	return l.limits.MaxPositionsPerMarket
}

// SeedMarkets creates a capital row for every configured market that has none.
func (l *Ledger) SeedMarkets(ctx context.Context) error {
	for _, m := range l.registry.All() {
		row := domain.PortfolioCapital{
			Market:         m.Code,
			Currency:       m.Currency,
			InitialCapital: m.InitialCapital,
			MaxPositions:   l.limits.MaxPositionsPerMarket,
		}
		if err := l.store.EnsureMarket(ctx, row); err != nil {
			return fmt.Errorf("seed market %s: %w", m.Code, err)
		}
	}
	return nil
}

// GetCapitalStatus returns a read-only snapshot of every market.
func (l *Ledger) GetCapitalStatus(ctx context.Context) (*Status, error) {
	rows, err := l.store.GetPortfolioCapital(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio capital: %w", err)
	}

	status := &Status{
		PerMarket:         make(map[string]MarketStatus, len(rows)),
		MaxTotalPositions: l.limits.MaxPositionsTotal,
	}
	for code, row := range rows {
		ms := MarketStatus{
			Market:         code,
			Currency:       row.Currency,
			InitialCapital: row.InitialCapital,
			RealizedPL:     row.RealizedPL,
			Allocated:      row.Allocated,
			Available:      row.Available(),
			PositionCount:  row.PositionCount,
			MaxPositions:   l.maxPositions(row),
		}
		if m, ok := l.registry.Get(code); ok {
			ms.NextTradeSize = l.CalculateTradeSize(m, row)
		}
		status.PerMarket[code] = ms
		status.TotalPositions += row.PositionCount
	}
	status.UtilizationPercent = utilization(status.TotalPositions, l.limits.MaxPositionsTotal)
	return status, nil
}

func utilization(total, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(total)).
		Div(decimal.NewFromInt(int64(limit))).
		Mul(decimal.NewFromInt(100)).
		Round(1)
	return pct.InexactFloat64()
}

// CalculateTradeSize returns (initial + realized) / maxPositionsPerMarket,
// never less than 10% of the market's standard trade size.
func (l *Ledger) CalculateTradeSize(m *market.Market, row domain.PortfolioCapital) float64 {
	perMarket := l.limits.MaxPositionsPerMarket
	if perMarket <= 0 {
		perMarket = 1
	}
	floor := decimal.NewFromFloat(m.StandardTradeSize).Mul(decimal.NewFromFloat(0.1))
	size := decimal.NewFromFloat(row.InitialCapital).
		Add(decimal.NewFromFloat(row.RealizedPL)).
		Div(decimal.NewFromInt(int64(perMarket))).
		Round(2)
	if size.LessThan(floor) {
		size = floor
	}
	return size.InexactFloat64()
}

// ValidateTradeEntry runs the entry checks in order and stops at the first
// failure: total limit, market known, market limit, capital, duplicate.
// A non-nil error means a store read failed, not that the trade is invalid.
func (l *Ledger) ValidateTradeEntry(ctx context.Context, marketCode, symbol string) (ValidationResult, error) {
	rows, err := l.store.GetPortfolioCapital(ctx)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to get portfolio capital: %w", err)
	}

	total := 0
	for _, row := range rows {
		total += row.PositionCount
	}
	if total >= l.limits.MaxPositionsTotal {
		return ValidationResult{
			Code:   domain.CodeTotalLimit,
			Reason: fmt.Sprintf("total position limit reached (%d/%d)", total, l.limits.MaxPositionsTotal),
		}, nil
	}

	m, known := l.registry.Get(marketCode)
	var row domain.PortfolioCapital
	hasRow := false
	if known {
		row, hasRow = rows[m.Code]
	}
	if !known || !hasRow {
		return ValidationResult{
			Code:   domain.CodeMarketNotFound,
			Reason: fmt.Sprintf("market %s not found", marketCode),
		}, nil
	}

	if limit := l.maxPositions(row); row.PositionCount >= limit {
		return ValidationResult{
			Code:     domain.CodeMarketLimit,
			Reason:   fmt.Sprintf("%s position limit reached (%d/%d)", m.Code, row.PositionCount, limit),
			Currency: row.Currency,
		}, nil
	}

	size := l.CalculateTradeSize(m, row)
	available := row.Available()
	if available < size {
		shortfall := decimal.NewFromFloat(size).Sub(decimal.NewFromFloat(available)).Round(2).InexactFloat64()
		return ValidationResult{
			Code:      domain.CodeInsufficientCapital,
			Reason:    fmt.Sprintf("insufficient capital: need %.2f %s, available %.2f (short %.2f)", size, row.Currency, available, shortfall),
			TradeSize: size,
			Currency:  row.Currency,
			Shortfall: shortfall,
		}, nil
	}

	existing, err := l.trades.GetActiveTradeBySymbol(ctx, symbol)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to check active trade for %s: %w", symbol, err)
	}
	if existing != nil {
		return ValidationResult{
			Code:            domain.CodeDuplicatePosition,
			Reason:          fmt.Sprintf("active trade #%d already open for %s", existing.ID, symbol),
			Currency:        row.Currency,
			ExistingTradeID: existing.ID,
		}, nil
	}

	return ValidationResult{
		Valid:     true,
		TradeSize: size,
		Currency:  row.Currency,
	}, nil
}

// AllocateForTrade re-validates the entry and reserves the trade size.
// Validate and allocate are serialized per market; the store's conditional
// update closes the window across markets and processes.
func (l *Ledger) AllocateForTrade(ctx context.Context, marketCode, symbol string, entryPrice float64) (*Allocation, error) {
	marketCode = strings.ToUpper(marketCode)
	lock := l.marketLock(marketCode)
	lock.Lock()
	defer lock.Unlock()

	result, err := l.ValidateTradeEntry(ctx, marketCode, symbol)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &ValidationError{Result: result}
	}

	if err := l.store.AllocateCapital(ctx, marketCode, result.TradeSize, l.limits.MaxPositionsTotal); err != nil {
		if errors.Is(err, domain.ErrAllocationRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: allocate %s for %s: %v", domain.ErrDataIntegrity, marketCode, symbol, err)
	}

	l.logger.Info("💰 Allocated %.2f %s for %s @ %.4f (%s)", result.TradeSize, result.Currency, symbol, entryPrice, marketCode)
	return &Allocation{
		Allocated: result.TradeSize,
		Currency:  result.Currency,
		Market:    marketCode,
	}, nil
}

// ReleaseFromTrade returns a closed trade's size to its market and books its P/L.
func (l *Ledger) ReleaseFromTrade(ctx context.Context, trade *domain.Trade) (*Release, error) {
	code := trade.Market
	if code == "" {
		code = l.registry.Resolve(trade.Symbol)
	}
	m, ok := l.registry.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMarket, code)
	}

	amount := trade.TradeSize
	if amount == 0 && trade.InvestmentAmount != nil {
		amount = *trade.InvestmentAmount
	}
	pl := ProfitLossAmount(trade)

	lock := l.marketLock(m.Code)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.ReleaseCapital(ctx, m.Code, amount, pl); err != nil {
		return nil, fmt.Errorf("%w: release %s for trade %d: %v", domain.ErrDataIntegrity, m.Code, trade.ID, err)
	}

	l.logger.Info("💸 Released %.2f %s from trade #%d %s (P/L %.2f)", amount, m.Currency, trade.ID, trade.Symbol, pl)
	return &Release{
		Released: amount,
		PL:       pl,
		Currency: m.Currency,
		Market:   m.Code,
	}, nil
}

// ReleaseAllocation undoes an allocation whose trade was never created.
func (l *Ledger) ReleaseAllocation(ctx context.Context, alloc *Allocation) error {
	lock := l.marketLock(alloc.Market)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.ReleaseCapital(ctx, alloc.Market, alloc.Allocated, 0); err != nil {
		return fmt.Errorf("%w: undo allocation %s: %v", domain.ErrDataIntegrity, alloc.Market, err)
	}
	l.logger.Warn("↩️ Rolled back allocation of %.2f %s (%s)", alloc.Allocated, alloc.Currency, alloc.Market)
	return nil
}

// ProfitLossAmount resolves the currency P/L of a closed trade. ProfitLoss is
// used as is when set; otherwise investment * percent / 100 with the legacy
// columns as fallbacks.
func ProfitLossAmount(trade *domain.Trade) float64 {
	if trade.ProfitLoss != nil {
		return *trade.ProfitLoss
	}

	investment := decimal.Zero
	switch {
	case trade.InvestmentAmount != nil && *trade.InvestmentAmount != 0:
		investment = decimal.NewFromFloat(*trade.InvestmentAmount)
	case trade.TradeSize != 0:
		investment = decimal.NewFromFloat(trade.TradeSize)
	}

	pct := decimal.Zero
	switch {
	case trade.ProfitLossPercent != nil:
		pct = decimal.NewFromFloat(*trade.ProfitLossPercent)
	case trade.ProfitLossPercentage != nil:
		pct = decimal.NewFromFloat(*trade.ProfitLossPercentage)
	}

	return investment.Mul(pct).Div(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}
