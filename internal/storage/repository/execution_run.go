package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/swing-trader/internal/domain"
)

// ExecutionRunRepository реализует историю запусков исполнения
type ExecutionRunRepository struct {
	db *sql.DB
}

// NewExecutionRunRepository создает новый репозиторий истории запусков
func NewExecutionRunRepository(db *sql.DB) *ExecutionRunRepository {
	return &ExecutionRunRepository{db: db}
}

// Save сохраняет сводку запуска
func (r *ExecutionRunRepository) Save(ctx context.Context, run *domain.ExecutionRun) error {
	var details any
	if run.Details != "" {
		details = run.Details
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_runs (id, market, trigger, total, executed, failed, skipped, duration_ms, details, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		run.ID,
		run.Market,
		run.Trigger,
		run.Total,
		run.Executed,
		run.Failed,
		run.Skipped,
		run.DurationMs,
		details,
		run.StartedAt,
	)
	return err
}

// GetRecent возвращает последние limit запусков, новые первыми
func (r *ExecutionRunRepository) GetRecent(ctx context.Context, limit int) ([]domain.ExecutionRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, market, trigger, total, executed, failed, skipped, duration_ms, COALESCE(details::text, ''), started_at
		FROM execution_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.ExecutionRun
	for rows.Next() {
		var run domain.ExecutionRun
		if err := rows.Scan(
			&run.ID,
			&run.Market,
			&run.Trigger,
			&run.Total,
			&run.Executed,
			&run.Failed,
			&run.Skipped,
			&run.DurationMs,
			&run.Details,
			&run.StartedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
