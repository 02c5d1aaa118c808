package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kirillm/swing-trader/internal/domain"
)

// uniqueViolation: SQLSTATE нарушения уникального индекса
const uniqueViolation = "23505"

const tradeColumns = `
	id, symbol, market, status, entry_date, entry_price, target_price, stop_loss_percent,
	trade_size, quantity, currency, win_rate, historical_signal_count, entry_dti, entry_dti_7d_avg,
	signal_id, auto_added, owner_ref, square_off_date, exit_date, exit_price, profit_loss,
	profit_loss_percent, exit_reason, created_at, investment_amount, profit_loss_percentage
`

// TradeRepository реализует работу со сделками
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый репозиторий для сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Insert сохраняет новую активную сделку
func (r *TradeRepository) Insert(ctx context.Context, trade *domain.Trade, ownerRef string) (*domain.Trade, error) {
	query := `
		INSERT INTO trades (symbol, market, status, entry_date, entry_price, target_price, stop_loss_percent,
		                    trade_size, quantity, currency, win_rate, historical_signal_count, entry_dti,
		                    entry_dti_7d_avg, signal_id, auto_added, owner_ref, square_off_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at
	`
	stored := *trade
	stored.OwnerRef = ownerRef
	if stored.Status == "" {
		stored.Status = domain.TradeStatusActive
	}

	err := r.db.QueryRowContext(ctx, query,
		stored.Symbol,
		stored.Market,
		stored.Status,
		stored.EntryDate,
		stored.EntryPrice,
		stored.TargetPrice,
		stored.StopLossPercent,
		stored.TradeSize,
		stored.Quantity,
		stored.Currency,
		stored.WinRate,
		stored.HistoricalSignalCount,
		stored.EntryDTI,
		stored.EntryDTI7DayAvg,
		stored.SignalID,
		stored.AutoAdded,
		stored.OwnerRef,
		stored.SquareOffDate,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: active trade for %s already exists", domain.ErrDataIntegrity, trade.Symbol)
		}
		return nil, fmt.Errorf("%w: insert trade %s: %v", domain.ErrDataIntegrity, trade.Symbol, err)
	}
	return &stored, nil
}

// GetActive получает все активные сделки
func (r *TradeRepository) GetActive(ctx context.Context) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, domain.TradeStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)
	}
	return trades, rows.Err()
}

// GetActiveBySymbol возвращает активную сделку по символу или nil
func (r *TradeRepository) GetActiveBySymbol(ctx context.Context, symbol string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = $1 AND UPPER(symbol) = UPPER($2) LIMIT 1`
	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, domain.TradeStatusActive, symbol))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return trade, err
}

// Close переводит сделку active -> closed; повторное закрытие невозможно
func (r *TradeRepository) Close(ctx context.Context, id int64, exit domain.TradeExit) error {
	query := `
		UPDATE trades
		SET status = $2, exit_date = $3, exit_price = $4, profit_loss_percent = $5, exit_reason = $6
		WHERE id = $1 AND status = $7
	`
	res, err := r.db.ExecContext(ctx, query,
		id,
		domain.TradeStatusClosed,
		exit.ExitDate,
		exit.ExitPrice,
		exit.ProfitLossPercent,
		exit.ExitReason,
		domain.TradeStatusActive,
	)
	if err != nil {
		return fmt.Errorf("%w: close trade %d: %v", domain.ErrDataIntegrity, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("trade %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("trade %d: %w", id, domain.ErrTradeNotActive)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	err := row.Scan(
		&t.ID,
		&t.Symbol,
		&t.Market,
		&t.Status,
		&t.EntryDate,
		&t.EntryPrice,
		&t.TargetPrice,
		&t.StopLossPercent,
		&t.TradeSize,
		&t.Quantity,
		&t.Currency,
		&t.WinRate,
		&t.HistoricalSignalCount,
		&t.EntryDTI,
		&t.EntryDTI7DayAvg,
		&t.SignalID,
		&t.AutoAdded,
		&t.OwnerRef,
		&t.SquareOffDate,
		&t.ExitDate,
		&t.ExitPrice,
		&t.ProfitLoss,
		&t.ProfitLossPercent,
		&t.ExitReason,
		&t.CreatedAt,
		&t.InvestmentAmount,
		&t.ProfitLossPercentage,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
