package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillm/swing-trader/internal/domain"
)

// CapitalRepository реализует учет капитала по рынкам
type CapitalRepository struct {
	db *sql.DB
}

// NewCapitalRepository создает новый репозиторий капитала
func NewCapitalRepository(db *sql.DB) *CapitalRepository {
	return &CapitalRepository{db: db}
}

// GetAll возвращает строки капитала по коду рынка
func (r *CapitalRepository) GetAll(ctx context.Context) (map[string]domain.PortfolioCapital, error) {
	query := `
		SELECT market, currency, initial_capital, realized_pl, allocated, position_count, max_positions, updated_at
		FROM portfolio_capital
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.PortfolioCapital)
	for rows.Next() {
		var c domain.PortfolioCapital
		if err := rows.Scan(
			&c.Market,
			&c.Currency,
			&c.InitialCapital,
			&c.RealizedPL,
			&c.Allocated,
			&c.PositionCount,
			&c.MaxPositions,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out[c.Market] = c
	}
	return out, rows.Err()
}

// Allocate атомарно резервирует amount: строки капитала блокируются целиком,
// чтобы глобальный лимит позиций проверялся вместе с рыночным
func (r *CapitalRepository) Allocate(ctx context.Context, market string, amount float64, maxTotalPositions int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(position_count), 0)
		FROM (SELECT position_count FROM portfolio_capital FOR UPDATE) locked
	`).Scan(&total)
	if err != nil {
		return err
	}
	if total >= maxTotalPositions {
		return fmt.Errorf("%w: total positions %d/%d", domain.ErrAllocationRejected, total, maxTotalPositions)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE portfolio_capital
		SET allocated = allocated + $2, position_count = position_count + 1, updated_at = NOW()
		WHERE market = $1
		  AND initial_capital + realized_pl - allocated >= $2
		  AND position_count < max_positions
	`, market, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s cannot take %.2f", domain.ErrAllocationRejected, market, amount)
	}

	return tx.Commit()
}

// Release возвращает amount и учитывает реализованный P/L
func (r *CapitalRepository) Release(ctx context.Context, market string, amount, plAmount float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_capital
		SET allocated = GREATEST(allocated - $2, 0),
		    position_count = GREATEST(position_count - 1, 0),
		    realized_pl = realized_pl + $3,
		    updated_at = NOW()
		WHERE market = $1
	`, market, amount, plAmount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("capital row %s: %w", market, domain.ErrNotFound)
	}
	return nil
}

// Ensure создает строку рынка, если ее еще нет
func (r *CapitalRepository) Ensure(ctx context.Context, c domain.PortfolioCapital) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_capital (market, currency, initial_capital, max_positions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market) DO NOTHING
	`, c.Market, c.Currency, c.InitialCapital, c.MaxPositions)
	return err
}
