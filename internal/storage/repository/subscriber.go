package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/swing-trader/internal/domain"
)

// SubscriberRepository реализует работу с подписчиками
type SubscriberRepository struct {
	db *sql.DB
}

// NewSubscriberRepository создает новый репозиторий подписчиков
func NewSubscriberRepository(db *sql.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// GetActive возвращает активных подписчиков
func (r *SubscriberRepository) GetActive(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, market, active, created_at
		FROM subscribers
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Market, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Upsert создает или обновляет подписчика по chat_id
func (r *SubscriberRepository) Upsert(ctx context.Context, s *domain.Subscriber) error {
	market := s.Market
	if market == "" {
		market = domain.AudienceAll
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (chat_id, market, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET market = EXCLUDED.market, active = EXCLUDED.active
		RETURNING id, created_at
	`, s.ChatID, market, s.Active).Scan(&s.ID, &s.CreatedAt)
}
