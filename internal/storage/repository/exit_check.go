package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/swing-trader/internal/domain"
)

// ExitCheckRepository реализует журнал проверок выхода
type ExitCheckRepository struct {
	db *sql.DB
}

// NewExitCheckRepository создает новый репозиторий журнала проверок
func NewExitCheckRepository(db *sql.DB) *ExitCheckRepository {
	return &ExitCheckRepository{db: db}
}

// Save добавляет запись проверки
func (r *ExitCheckRepository) Save(ctx context.Context, rec *domain.ExitCheckRecord) error {
	query := `
		INSERT INTO exit_checks (trade_id, current_price, pl_percent, days_held, target_reached, stop_loss_hit,
		                         max_days_reached, square_off_reached, alert_sent, alert_type, check_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))
		RETURNING id, check_time
	`
	var checkTime any
	if !rec.CheckTime.IsZero() {
		checkTime = rec.CheckTime
	}
	return r.db.QueryRowContext(ctx, query,
		rec.TradeID,
		rec.CurrentPrice,
		rec.PLPercent,
		rec.DaysHeld,
		rec.TargetReached,
		rec.StopLossHit,
		rec.MaxDaysReached,
		rec.SquareOffReached,
		rec.AlertSent,
		rec.AlertType,
		checkTime,
	).Scan(&rec.ID, &rec.CheckTime)
}

// WasAlertSent проверяет, отправлялся ли алерт этого типа по сделке
func (r *ExitCheckRepository) WasAlertSent(ctx context.Context, tradeID int64, alertType string) (bool, error) {
	var sent bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM exit_checks WHERE trade_id = $1 AND alert_type = $2 AND alert_sent
		)
	`, tradeID, alertType).Scan(&sent)
	return sent, err
}
