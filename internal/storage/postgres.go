package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/storage/repository"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db          *sql.DB
	signals     *repository.SignalRepository
	trades      *repository.TradeRepository
	capital     *repository.CapitalRepository
	exitChecks  *repository.ExitCheckRepository
	subscribers *repository.SubscriberRepository
	leases      *repository.LeaseRepository
	runs        *repository.ExecutionRunRepository
	logs        *repository.LogRepository
}

func NewPostgresStorage(cfg config.DatabaseConfig) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseConnection, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrDatabaseConnection, err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	storage := NewPostgresStorageFromDB(db)

	// Запускаем миграции
	if err := storage.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageFromDB wraps an open connection without running migrations.
func NewPostgresStorageFromDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{
		db:          db,
		signals:     repository.NewSignalRepository(db),
		trades:      repository.NewTradeRepository(db),
		capital:     repository.NewCapitalRepository(db),
		exitChecks:  repository.NewExitCheckRepository(db),
		subscribers: repository.NewSubscriberRepository(db),
		leases:      repository.NewLeaseRepository(db),
		runs:        repository.NewExecutionRunRepository(db),
		logs:        repository.NewLogRepository(db),
	}
}

// Migrations returns the schema statements in apply order.
func Migrations() []string {
	return []string{
		// Сигналы от сканера
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			market VARCHAR(8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			target_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 2) NOT NULL DEFAULT 0,
			historical_signal_count INTEGER NOT NULL DEFAULT 0,
			entry_dti DECIMAL(12, 4) NOT NULL DEFAULT 0,
			entry_dti_7d_avg DECIMAL(12, 4) NOT NULL DEFAULT 0,
			signal_date DATE NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			linked_trade_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Сделки
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			market VARCHAR(8) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			entry_date DATE NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			target_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			stop_loss_percent DECIMAL(6, 2) NOT NULL DEFAULT 0,
			trade_size DECIMAL(20, 2) NOT NULL DEFAULT 0,
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			currency VARCHAR(8) NOT NULL,
			win_rate DECIMAL(6, 2) NOT NULL DEFAULT 0,
			historical_signal_count INTEGER NOT NULL DEFAULT 0,
			entry_dti DECIMAL(12, 4) NOT NULL DEFAULT 0,
			entry_dti_7d_avg DECIMAL(12, 4) NOT NULL DEFAULT 0,
			signal_id BIGINT REFERENCES signals(id),
			auto_added BOOLEAN NOT NULL DEFAULT false,
			owner_ref VARCHAR(64) NOT NULL DEFAULT '',
			square_off_date DATE,
			exit_date DATE,
			exit_price DECIMAL(20, 8),
			profit_loss DECIMAL(20, 2),
			profit_loss_percent DECIMAL(10, 4),
			exit_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Устаревшие колонки старых записей
		`ALTER TABLE trades ADD COLUMN IF NOT EXISTS investment_amount DECIMAL(20, 2)`,
		`ALTER TABLE trades ADD COLUMN IF NOT EXISTS profit_loss_percentage DECIMAL(10, 4)`,
		// Не больше одной активной сделки на символ
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_trades_active_symbol ON trades(symbol) WHERE status = 'active'`,
		// Капитал по рынкам
		`CREATE TABLE IF NOT EXISTS portfolio_capital (
			market VARCHAR(8) PRIMARY KEY,
			currency VARCHAR(8) NOT NULL,
			initial_capital DECIMAL(20, 2) NOT NULL,
			realized_pl DECIMAL(20, 2) NOT NULL DEFAULT 0,
			allocated DECIMAL(20, 2) NOT NULL DEFAULT 0,
			position_count INTEGER NOT NULL DEFAULT 0,
			max_positions INTEGER NOT NULL DEFAULT 10,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (allocated >= 0),
			CHECK (position_count >= 0 AND position_count <= max_positions)
		)`,
		// Журнал проверок выхода
		`CREATE TABLE IF NOT EXISTS exit_checks (
			id BIGSERIAL PRIMARY KEY,
			trade_id BIGINT NOT NULL REFERENCES trades(id),
			current_price DECIMAL(20, 8) NOT NULL,
			pl_percent DECIMAL(10, 4) NOT NULL,
			days_held INTEGER NOT NULL,
			target_reached BOOLEAN NOT NULL DEFAULT false,
			stop_loss_hit BOOLEAN NOT NULL DEFAULT false,
			max_days_reached BOOLEAN NOT NULL DEFAULT false,
			square_off_reached BOOLEAN NOT NULL DEFAULT false,
			alert_sent BOOLEAN NOT NULL DEFAULT false,
			alert_type VARCHAR(32) NOT NULL DEFAULT '',
			check_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Подписчики уведомлений
		`CREATE TABLE IF NOT EXISTS subscribers (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL UNIQUE,
			market VARCHAR(8) NOT NULL DEFAULT 'ALL',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Блокировки задач между инстансами
		`CREATE TABLE IF NOT EXISTS job_leases (
			name VARCHAR(64) PRIMARY KEY,
			holder VARCHAR(128) NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		// История запусков исполнения
		`CREATE TABLE IF NOT EXISTS execution_runs (
			id VARCHAR(26) PRIMARY KEY,
			market VARCHAR(8) NOT NULL,
			trigger VARCHAR(16) NOT NULL,
			total INTEGER NOT NULL,
			executed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			details JSONB,
			started_at TIMESTAMPTZ NOT NULL
		)`,
		// Системные логи
		`CREATE TABLE IF NOT EXISTS logs (
			id BIGSERIAL PRIMARY KEY,
			level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status_market ON signals(status, market)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_checks_trade_alert ON exit_checks(trade_id, alert_type)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_runs_started_at ON execution_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at)`,
	}
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	for _, migration := range Migrations() {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ==================== SIGNALS ====================

func (s *PostgresStorage) GetPendingSignals(ctx context.Context, status, market string) ([]domain.Signal, error) {
	return s.signals.GetByStatus(ctx, status, market)
}

func (s *PostgresStorage) InsertSignal(ctx context.Context, signal *domain.Signal) error {
	return s.signals.Insert(ctx, signal)
}

func (s *PostgresStorage) UpdateSignalStatus(ctx context.Context, id int64, status string, linkedTradeID *int64) error {
	return s.signals.UpdateStatus(ctx, id, status, linkedTradeID)
}

// ==================== TRADES ====================

func (s *PostgresStorage) InsertTrade(ctx context.Context, trade *domain.Trade, ownerRef string) (*domain.Trade, error) {
	return s.trades.Insert(ctx, trade, ownerRef)
}

func (s *PostgresStorage) GetActiveTrades(ctx context.Context) ([]domain.Trade, error) {
	return s.trades.GetActive(ctx)
}

func (s *PostgresStorage) GetActiveTradeBySymbol(ctx context.Context, symbol string) (*domain.Trade, error) {
	return s.trades.GetActiveBySymbol(ctx, symbol)
}

func (s *PostgresStorage) CloseTrade(ctx context.Context, id int64, exit domain.TradeExit) error {
	return s.trades.Close(ctx, id, exit)
}

// ==================== PORTFOLIO CAPITAL ====================

func (s *PostgresStorage) GetPortfolioCapital(ctx context.Context) (map[string]domain.PortfolioCapital, error) {
	return s.capital.GetAll(ctx)
}

func (s *PostgresStorage) AllocateCapital(ctx context.Context, market string, amount float64, maxTotalPositions int) error {
	return s.capital.Allocate(ctx, market, amount, maxTotalPositions)
}

func (s *PostgresStorage) ReleaseCapital(ctx context.Context, market string, amount, plAmount float64) error {
	return s.capital.Release(ctx, market, amount, plAmount)
}

func (s *PostgresStorage) EnsureMarket(ctx context.Context, capital domain.PortfolioCapital) error {
	return s.capital.Ensure(ctx, capital)
}

// ==================== EXIT CHECKS ====================

func (s *PostgresStorage) RecordExitCheck(ctx context.Context, record *domain.ExitCheckRecord) error {
	return s.exitChecks.Save(ctx, record)
}

func (s *PostgresStorage) WasAlertSent(ctx context.Context, tradeID int64, alertType string) (bool, error) {
	return s.exitChecks.WasAlertSent(ctx, tradeID, alertType)
}

// ==================== SUBSCRIBERS ====================

func (s *PostgresStorage) GetActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	return s.subscribers.GetActive(ctx)
}

func (s *PostgresStorage) UpsertSubscriber(ctx context.Context, subscriber *domain.Subscriber) error {
	return s.subscribers.Upsert(ctx, subscriber)
}

// ==================== LEASES ====================

func (s *PostgresStorage) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return s.leases.Acquire(ctx, name, holder, ttl)
}

func (s *PostgresStorage) ReleaseLease(ctx context.Context, name, holder string) error {
	return s.leases.Release(ctx, name, holder)
}

// ==================== EXECUTION RUNS ====================

func (s *PostgresStorage) SaveExecutionRun(ctx context.Context, run *domain.ExecutionRun) error {
	return s.runs.Save(ctx, run)
}

func (s *PostgresStorage) GetRecentExecutionRuns(ctx context.Context, limit int) ([]domain.ExecutionRun, error) {
	return s.runs.GetRecent(ctx, limit)
}

// ==================== LOGS ====================

func (s *PostgresStorage) Save(ctx context.Context, level, message, data string) error {
	return s.logs.Save(ctx, level, message, data)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// DB возвращает указатель на *sql.DB
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

var (
	_ domain.SignalStore           = (*PostgresStorage)(nil)
	_ domain.TradeStore            = (*PostgresStorage)(nil)
	_ domain.PortfolioCapitalStore = (*PostgresStorage)(nil)
	_ domain.ExitCheckAudit        = (*PostgresStorage)(nil)
	_ domain.SubscriberStore       = (*PostgresStorage)(nil)
	_ domain.LeaseStore            = (*PostgresStorage)(nil)
	_ domain.ExecutionRunStore     = (*PostgresStorage)(nil)
	_ domain.LogRepository         = (*PostgresStorage)(nil)
)
