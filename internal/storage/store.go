package storage

import (
	"context"
	"fmt"

	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/storage/memory"
)

// Store объединяет все хранилища, нужные движку
type Store interface {
	domain.SignalStore
	domain.TradeStore
	domain.PortfolioCapitalStore
	domain.ExitCheckAudit
	domain.SubscriberStore
	domain.LeaseStore
	domain.ExecutionRunStore
	domain.LogRepository

	InsertSignal(ctx context.Context, signal *domain.Signal) error
	Close() error
}

// Open выбирает реализацию по STORAGE
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return NewPostgresStorage(cfg.Database)
	default:
		return nil, fmt.Errorf("%w: unknown storage %q", domain.ErrConfiguration, cfg.Storage)
	}
}

var (
	_ Store = (*PostgresStorage)(nil)
	_ Store = (*memory.Store)(nil)
)
