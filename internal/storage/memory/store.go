// Package memory implements every store interface in process memory. It backs
// STORAGE=memory dry runs and the package tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// Store is safe for concurrent use. Mutations hold a single lock, so the
// conditional allocation is atomic the same way the SQL update is.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextSignalID int64
	nextTradeID  int64
	nextCheckID  int64
	nextSubID    int64
	nextLogID    int64

	signals     map[int64]*domain.Signal
	trades      map[int64]*domain.Trade
	capital     map[string]*domain.PortfolioCapital
	checks      []domain.ExitCheckRecord
	subscribers map[int64]*domain.Subscriber
	leases      map[string]lease
	runs        []domain.ExecutionRun
	logs        []domain.Log
}

func New() *Store {
	return &Store{
		now:         time.Now,
		signals:     make(map[int64]*domain.Signal),
		trades:      make(map[int64]*domain.Trade),
		capital:     make(map[string]*domain.PortfolioCapital),
		subscribers: make(map[int64]*domain.Subscriber),
		leases:      make(map[string]lease),
	}
}

// WithClock replaces the clock used for timestamps and lease expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// --- signals ---

// AddSignal stores a signal as the scanner would and returns its id.
func (s *Store) AddSignal(sig domain.Signal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSignalID++
	sig.ID = s.nextSignalID
	if sig.Status == "" {
		sig.Status = domain.SignalStatusPending
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now()
	}
	s.signals[sig.ID] = &sig
	return sig.ID
}

// InsertSignal is AddSignal behind the storage.Store signature.
func (s *Store) InsertSignal(_ context.Context, signal *domain.Signal) error {
	signal.ID = s.AddSignal(*signal)
	stored, _ := s.GetSignal(signal.ID)
	*signal = stored
	return nil
}

// GetSignal returns a copy of the signal.
func (s *Store) GetSignal(id int64) (domain.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, false
	}
	return *sig, true
}

func (s *Store) GetPendingSignals(_ context.Context, status, market string) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Signal{}
	for _, sig := range s.signals {
		if sig.Status == status && strings.EqualFold(sig.Market, market) {
			out = append(out, *sig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateSignalStatus(_ context.Context, id int64, status string, linkedTradeID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("signal %d: %w", id, domain.ErrNotFound)
	}
	sig.Status = status
	if linkedTradeID != nil {
		v := *linkedTradeID
		sig.LinkedTradeID = &v
	}
	return nil
}

// --- trades ---

func (s *Store) InsertTrade(_ context.Context, trade *domain.Trade, ownerRef string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.trades {
		if t.Status == domain.TradeStatusActive && strings.EqualFold(t.Symbol, trade.Symbol) {
			return nil, fmt.Errorf("%w: active trade for %s already exists", domain.ErrDataIntegrity, trade.Symbol)
		}
	}

	s.nextTradeID++
	stored := *trade
	stored.ID = s.nextTradeID
	stored.OwnerRef = ownerRef
	if stored.Status == "" {
		stored.Status = domain.TradeStatusActive
	}
	stored.CreatedAt = s.now()
	s.trades[stored.ID] = &stored

	out := stored
	return &out, nil
}

// GetTrade returns a copy of the trade.
func (s *Store) GetTrade(id int64) (domain.Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, false
	}
	return *t, true
}

func (s *Store) GetActiveTrades(_ context.Context) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Trade{}
	for _, t := range s.trades {
		if t.Status == domain.TradeStatusActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActiveTradeBySymbol(_ context.Context, symbol string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.trades {
		if t.Status == domain.TradeStatusActive && strings.EqualFold(t.Symbol, symbol) {
			out := *t
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) CloseTrade(_ context.Context, id int64, exit domain.TradeExit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return fmt.Errorf("trade %d: %w", id, domain.ErrNotFound)
	}
	if t.Status != domain.TradeStatusActive {
		return fmt.Errorf("trade %d: %w", id, domain.ErrTradeNotActive)
	}

	exitDate := exit.ExitDate
	exitPrice := exit.ExitPrice
	plPct := exit.ProfitLossPercent
	reason := exit.ExitReason
	t.Status = domain.TradeStatusClosed
	t.ExitDate = &exitDate
	t.ExitPrice = &exitPrice
	t.ProfitLossPercent = &plPct
	t.ExitReason = &reason
	return nil
}

// --- portfolio capital ---

// SetCapital overwrites a market row.
func (s *Store) SetCapital(row domain.PortfolioCapital) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = s.now()
	s.capital[row.Market] = &row
}

func (s *Store) GetPortfolioCapital(_ context.Context) (map[string]domain.PortfolioCapital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.PortfolioCapital, len(s.capital))
	for code, row := range s.capital {
		out[code] = *row
	}
	return out, nil
}

func (s *Store) AllocateCapital(_ context.Context, market string, amount float64, maxTotalPositions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.capital[market]
	if !ok {
		return fmt.Errorf("capital row %s: %w", market, domain.ErrNotFound)
	}

	total := 0
	for _, r := range s.capital {
		total += r.PositionCount
	}
	switch {
	case total >= maxTotalPositions:
		return fmt.Errorf("%w: total positions %d/%d", domain.ErrAllocationRejected, total, maxTotalPositions)
	case row.MaxPositions > 0 && row.PositionCount >= row.MaxPositions:
		return fmt.Errorf("%w: %s positions %d/%d", domain.ErrAllocationRejected, market, row.PositionCount, row.MaxPositions)
	case row.Available() < amount:
		return fmt.Errorf("%w: %s available %.2f < %.2f", domain.ErrAllocationRejected, market, row.Available(), amount)
	}

	row.Allocated += amount
	row.PositionCount++
	row.UpdatedAt = s.now()
	return nil
}

func (s *Store) ReleaseCapital(_ context.Context, market string, amount, plAmount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.capital[market]
	if !ok {
		return fmt.Errorf("capital row %s: %w", market, domain.ErrNotFound)
	}

	row.Allocated -= amount
	if row.Allocated < 0 {
		row.Allocated = 0
	}
	if row.PositionCount > 0 {
		row.PositionCount--
	}
	row.RealizedPL += plAmount
	row.UpdatedAt = s.now()
	return nil
}

func (s *Store) EnsureMarket(_ context.Context, capital domain.PortfolioCapital) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.capital[capital.Market]; ok {
		return nil
	}
	capital.UpdatedAt = s.now()
	s.capital[capital.Market] = &capital
	return nil
}

// --- exit checks ---

func (s *Store) RecordExitCheck(_ context.Context, record *domain.ExitCheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCheckID++
	record.ID = s.nextCheckID
	if record.CheckTime.IsZero() {
		record.CheckTime = s.now()
	}
	s.checks = append(s.checks, *record)
	return nil
}

func (s *Store) WasAlertSent(_ context.Context, tradeID int64, alertType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.checks) - 1; i >= 0; i-- {
		c := s.checks[i]
		if c.TradeID == tradeID && c.AlertType == alertType && c.AlertSent {
			return true, nil
		}
	}
	return false, nil
}

// ExitChecks returns the audit trail of one trade, oldest first.
func (s *Store) ExitChecks(tradeID int64) []domain.ExitCheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExitCheckRecord
	for _, c := range s.checks {
		if c.TradeID == tradeID {
			out = append(out, c)
		}
	}
	return out
}

// --- subscribers ---

func (s *Store) GetActiveSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Subscriber{}
	for _, sub := range s.subscribers {
		if sub.Active {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertSubscriber(_ context.Context, subscriber *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscribers {
		if existing.ChatID == subscriber.ChatID {
			existing.Market = subscriber.Market
			existing.Active = subscriber.Active
			subscriber.ID = existing.ID
			return nil
		}
	}
	s.nextSubID++
	stored := *subscriber
	stored.ID = s.nextSubID
	stored.CreatedAt = s.now()
	s.subscribers[stored.ID] = &stored
	subscriber.ID = stored.ID
	return nil
}

// --- leases ---

func (s *Store) AcquireLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[name]; ok && cur.holder != holder && now.Before(cur.expiresAt) {
		return false, nil
	}
	s.leases[name] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[name]; ok && cur.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

// --- execution runs ---

func (s *Store) SaveExecutionRun(_ context.Context, run *domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *Store) GetRecentExecutionRuns(_ context.Context, limit int) ([]domain.ExecutionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.ExecutionRun{}
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// --- logs ---

func (s *Store) Save(_ context.Context, level, message, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	s.logs = append(s.logs, domain.Log{
		ID:        s.nextLogID,
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: s.now(),
	})
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Logs returns every saved system log.
func (s *Store) Logs() []domain.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Log(nil), s.logs...)
}

var (
	_ domain.SignalStore           = (*Store)(nil)
	_ domain.TradeStore            = (*Store)(nil)
	_ domain.PortfolioCapitalStore = (*Store)(nil)
	_ domain.ExitCheckAudit        = (*Store)(nil)
	_ domain.SubscriberStore       = (*Store)(nil)
	_ domain.LeaseStore            = (*Store)(nil)
	_ domain.ExecutionRunStore     = (*Store)(nil)
	_ domain.LogRepository         = (*Store)(nil)
)
