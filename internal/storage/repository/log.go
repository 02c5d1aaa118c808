package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
)

// LogRepository пишет системные события движка (старт, остановка) в таблицу logs
type LogRepository struct {
	db *sql.DB
}

func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Save сохраняет событие; data хранится как JSONB (NULL если пусто)
func (r *LogRepository) Save(ctx context.Context, level, message, data string) error {
	level = strings.ToUpper(level)
	switch level {
	case domain.LogLevelInfo, domain.LogLevelWarn, domain.LogLevelError:
	default:
		return fmt.Errorf("%w: log level %q", domain.ErrInvalidInput, level)
	}

	var payload any
	if data != "" {
		payload = data
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logs (level, message, data, created_at) VALUES ($1, $2, $3, $4)`,
		level, message, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: save log: %v", domain.ErrDataIntegrity, err)
	}
	return nil
}
