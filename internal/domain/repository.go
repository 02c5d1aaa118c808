package domain

import (
	"context"
	"time"
)

// SignalStore определяет интерфейс для работы с сигналами
type SignalStore interface {
	GetPendingSignals(ctx context.Context, status, market string) ([]Signal, error)
	UpdateSignalStatus(ctx context.Context, id int64, status string, linkedTradeID *int64) error
}

// TradeStore определяет интерфейс для работы со сделками
type TradeStore interface {
	InsertTrade(ctx context.Context, trade *Trade, ownerRef string) (*Trade, error)
	GetActiveTrades(ctx context.Context) ([]Trade, error)
	// GetActiveTradeBySymbol возвращает nil, nil если активной сделки нет
	GetActiveTradeBySymbol(ctx context.Context, symbol string) (*Trade, error)
	// CloseTrade возвращает ErrTradeNotActive если сделка уже закрыта
	CloseTrade(ctx context.Context, id int64, exit TradeExit) error
}

// PortfolioCapitalStore определяет интерфейс для учета капитала по рынкам
type PortfolioCapitalStore interface {
	GetPortfolioCapital(ctx context.Context) (map[string]PortfolioCapital, error)
	// AllocateCapital атомарно резервирует amount, если хватает капитала и слотов;
	// иначе возвращает ErrAllocationRejected
	AllocateCapital(ctx context.Context, market string, amount float64, maxTotalPositions int) error
	ReleaseCapital(ctx context.Context, market string, amount, plAmount float64) error
	// EnsureMarket создает строку рынка, если ее нет (существующая не меняется)
	EnsureMarket(ctx context.Context, capital PortfolioCapital) error
}

// ExitCheckAudit определяет интерфейс журнала проверок выхода
type ExitCheckAudit interface {
	RecordExitCheck(ctx context.Context, record *ExitCheckRecord) error
	WasAlertSent(ctx context.Context, tradeID int64, alertType string) (bool, error)
}

// SubscriberStore определяет интерфейс для работы с подписчиками
type SubscriberStore interface {
	GetActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	UpsertSubscriber(ctx context.Context, subscriber *Subscriber) error
}

// LeaseStore определяет интерфейс блокировок между инстансами
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// ExecutionRunStore определяет интерфейс для истории запусков исполнения
type ExecutionRunStore interface {
	SaveExecutionRun(ctx context.Context, run *ExecutionRun) error
	GetRecentExecutionRuns(ctx context.Context, limit int) ([]ExecutionRun, error)
}

// LogRepository определяет интерфейс для работы с логами
type LogRepository interface {
	Save(ctx context.Context, level, message, data string) error
}
