package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillm/swing-trader/internal/capital"
	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/exchange"
	"github.com/kirillm/swing-trader/internal/execution"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/internal/monitor"
	"github.com/kirillm/swing-trader/internal/scheduler"
	"github.com/kirillm/swing-trader/internal/storage"
	"github.com/kirillm/swing-trader/internal/telegram"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// quotesPerSecond ограничивает запросы к одному источнику котировок
const quotesPerSecond = 5

// app держит собранный движок
type app struct {
	cfg       *config.Config
	logger    *utils.Logger
	store     storage.Store
	registry  *market.Registry
	ledger    *capital.Ledger
	formatter *telegram.Formatter
	notifier  *telegram.Notifier
	quotes    *exchange.PriceFailover
	guard     *scheduler.LeaseGuard
	executor  *execution.Executor
	monitor   *monitor.Monitor
}

func newApp(ctx context.Context, dryRun bool) (*app, error) {
	// 1. Конфигурация и логгер
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := utils.NewLoggerWithDir(cfg.LogLevel, cfg.LogDir)

	registry, err := market.NewRegistry(cfg.Markets)
	if err != nil {
		return nil, err
	}

	// 2. Хранилище
	store, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	logger.Info("✅ Storage ready (%s)", cfg.Storage)

	// 3. Капитал
	ledger := capital.NewLedger(store, store, registry, cfg.Engine, logger.With("capital"))
	if err := ledger.SeedMarkets(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to seed markets: %w", err)
	}

	// 4. Подписчики и уведомления
	for _, chatID := range cfg.Telegram.Subscribers {
		sub := &domain.Subscriber{ChatID: chatID, Market: domain.AudienceAll, Active: true}
		if err := store.UpsertSubscriber(ctx, sub); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to register subscriber %d: %w", chatID, err)
		}
	}

	var sender telegram.Sender = telegram.LogSender{Logger: logger}
	if cfg.Telegram.BotToken != "" && !dryRun {
		bot, err := telegram.NewBotSender(cfg.Telegram.BotToken)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		logger.Info("🤖 Authorized on Telegram account %s", bot.Self.UserName)
		sender = bot
	} else {
		logger.Warn("⚠️ Telegram disabled, notifications go to the log")
	}
	notifier := telegram.NewNotifier(sender, store, cfg.Telegram.BatchSize, cfg.Telegram.BatchInterval, logger.With("notifier"))
	formatter := telegram.NewFormatter(telegram.Lang(cfg.Language))

	// 5. Котировки: основной источник + запасные
	quotes := exchange.NewPriceFailover(
		exchange.NewQuoteClient(cfg.Quotes.BaseURL, cfg.Quotes.Timeout, quotesPerSecond),
		cfg.Quotes.Timeout, cfg.Quotes.CacheTTL, logger.With("quotes"),
	)
	for _, url := range cfg.Quotes.FallbackURLs {
		quotes.AddFallbackSource(exchange.NewQuoteClient(url, cfg.Quotes.Timeout, quotesPerSecond))
	}

	// 6. Исполнение и монитор
	guard := scheduler.NewLeaseGuard(store, utils.NewInstanceID(), cfg.Engine.LeaseTTL, logger.With("lease"))

	executor := execution.NewExecutor(execution.Deps{
		Signals:   store,
		Trades:    store,
		Runs:      store,
		Ledger:    ledger,
		Notifier:  notifier,
		Registry:  registry,
		Formatter: formatter,
		Guard:     guard,
		Limits:    cfg.Engine,
		Logger:    logger.With("execution"),
	})

	mon := monitor.NewMonitor(monitor.Deps{
		Trades:       store,
		Audit:        store,
		Ledger:       ledger,
		Quotes:       quotes,
		Notifier:     notifier,
		Registry:     registry,
		Formatter:    formatter,
		Guard:        guard,
		Limits:       cfg.Engine,
		MarketHours:  cfg.Monitor.EnforceMarketHours,
		QuoteTimeout: cfg.Quotes.Timeout,
		Logger:       logger.With("monitor"),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		registry:  registry,
		ledger:    ledger,
		formatter: formatter,
		notifier:  notifier,
		quotes:    quotes,
		guard:     guard,
		executor:  executor,
		monitor:   mon,
	}, nil
}

// event пишет системное событие в таблицу logs
func (a *app) event(ctx context.Context, level, message string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	if err := a.store.Save(ctx, level, message, string(payload)); err != nil {
		a.logger.Warn("⚠️ Failed to save event %q: %v", message, err)
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("❌ Failed to close storage: %v", err)
	}
	a.logger.Sync()
}
