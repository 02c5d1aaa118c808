package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillm/swing-trader/internal/domain"
)

// SignalRepository реализует работу с сигналами сканера
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый репозиторий для сигналов
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Insert сохраняет новый сигнал (используется сканером и тестовыми данными)
func (r *SignalRepository) Insert(ctx context.Context, signal *domain.Signal) error {
	query := `
		INSERT INTO signals (symbol, market, entry_price, target_price, win_rate, historical_signal_count,
		                     entry_dti, entry_dti_7d_avg, signal_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	status := signal.Status
	if status == "" {
		status = domain.SignalStatusPending
	}
	return r.db.QueryRowContext(ctx, query,
		signal.Symbol,
		strings.ToUpper(signal.Market),
		signal.EntryPrice,
		signal.TargetPrice,
		signal.WinRate,
		signal.HistoricalSignalCount,
		signal.EntryDTI,
		signal.EntryDTI7DayAvg,
		signal.SignalDate,
		status,
	).Scan(&signal.ID, &signal.CreatedAt)
}

// GetByStatus возвращает сигналы рынка с заданным статусом в порядке создания.
// Код рынка сравнивается без учета регистра.
func (r *SignalRepository) GetByStatus(ctx context.Context, status, market string) ([]domain.Signal, error) {
	query := `
		SELECT id, symbol, market, entry_price, target_price, win_rate, historical_signal_count,
		       entry_dti, entry_dti_7d_avg, signal_date, status, linked_trade_id, created_at
		FROM signals
		WHERE status = $1 AND UPPER(market) = $2
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, status, strings.ToUpper(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var s domain.Signal
		err := rows.Scan(
			&s.ID,
			&s.Symbol,
			&s.Market,
			&s.EntryPrice,
			&s.TargetPrice,
			&s.WinRate,
			&s.HistoricalSignalCount,
			&s.EntryDTI,
			&s.EntryDTI7DayAvg,
			&s.SignalDate,
			&s.Status,
			&s.LinkedTradeID,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}

	return signals, rows.Err()
}

// UpdateStatus меняет статус сигнала и, если передан, связывает его со сделкой
func (r *SignalRepository) UpdateStatus(ctx context.Context, id int64, status string, linkedTradeID *int64) error {
	query := `UPDATE signals SET status = $2, linked_trade_id = COALESCE($3, linked_trade_id) WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, linkedTradeID)
	if err != nil {
		return fmt.Errorf("%w: update signal %d: %v", domain.ErrDataIntegrity, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("signal %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
