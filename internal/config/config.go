package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kirillm/swing-trader/internal/market"
)

// Config содержит все настройки приложения
type Config struct {
	Storage  string // "postgres" or "memory"
	Telegram TelegramConfig
	Database DatabaseConfig
	Quotes   QuoteConfig
	Engine   EngineConfig
	Monitor  MonitorConfig
	Markets  []market.Market
	APIPort  int
	APIToken string // пусто = без авторизации
	LogLevel string
	LogDir   string
	Language string
}

type TelegramConfig struct {
	BotToken      string
	Subscribers   []int64
	BatchSize     int
	BatchInterval time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type QuoteConfig struct {
	BaseURL      string
	FallbackURLs []string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// EngineConfig: константы ledger и правил выхода
type EngineConfig struct {
	MaxPositionsTotal     int
	MaxPositionsPerMarket int
	TargetPercent         float64
	StopLossPercent       float64
	MaxHoldingDays        int
	MonitorInterval       time.Duration
	LeaseTTL              time.Duration
}

type MonitorConfig struct {
	Schedule           string // cron
	Timezone           string
	EnforceMarketHours bool
}

// DefaultEngineConfig возвращает стандартные лимиты
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxPositionsTotal:     30,
		MaxPositionsPerMarket: 10,
		TargetPercent:         8,
		StopLossPercent:       5,
		MaxHoldingDays:        30,
		MonitorInterval:       5 * time.Minute,
		LeaseTTL:              10 * time.Minute,
	}
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	subscribers, err := parseChatIDs(getEnv("TELEGRAM_SUBSCRIBERS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_SUBSCRIBERS: %w", err)
	}

	batchSize, err := strconv.Atoi(getEnv("NOTIFY_BATCH_SIZE", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_BATCH_SIZE: %w", err)
	}

	batchInterval, err := time.ParseDuration(getEnv("NOTIFY_BATCH_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_BATCH_INTERVAL: %w", err)
	}

	quoteTimeout, err := time.ParseDuration(getEnv("QUOTE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTE_TIMEOUT: %w", err)
	}

	quoteCacheTTL, err := time.ParseDuration(getEnv("QUOTE_CACHE_TTL", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTE_CACHE_TTL: %w", err)
	}

	leaseTTL, err := time.ParseDuration(getEnv("LEASE_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEASE_TTL: %w", err)
	}

	enforceHours, err := strconv.ParseBool(getEnv("MONITOR_MARKET_HOURS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONITOR_MARKET_HOURS: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	markets := market.DefaultMarkets()
	if path := getEnv("MARKETS_FILE", ""); path != "" {
		markets, err = LoadMarketsFile(path, markets)
		if err != nil {
			return nil, err
		}
	}

	engine := DefaultEngineConfig()
	engine.LeaseTTL = leaseTTL

	// MONITOR_INTERVAL заменяет cron-расписание монитора фиксированным шагом
	monitorSchedule := getEnv("MONITOR_SCHEDULE", "*/5 3-21 * * 1-5")
	if raw := getEnv("MONITOR_INTERVAL", ""); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid MONITOR_INTERVAL: %q", raw)
		}
		engine.MonitorInterval = interval
		monitorSchedule = "@every " + interval.String()
	}

	config := &Config{
		Storage: strings.ToLower(getEnv("STORAGE", "postgres")),
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			Subscribers:   subscribers,
			BatchSize:     batchSize,
			BatchInterval: batchInterval,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "swing_trader"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Quotes: QuoteConfig{
			BaseURL:      getEnv("QUOTE_BASE_URL", "https://query1.finance.yahoo.com"),
			FallbackURLs: splitAndTrim(getEnv("QUOTE_FALLBACK_URLS", "https://query2.finance.yahoo.com")),
			Timeout:      quoteTimeout,
			CacheTTL:     quoteCacheTTL,
		},
		Engine: engine,
		Monitor: MonitorConfig{
			Schedule:           monitorSchedule,
			Timezone:           getEnv("MONITOR_TIMEZONE", "UTC"),
			EnforceMarketHours: enforceHours,
		},
		Markets:  markets,
		APIPort:  apiPort,
		APIToken: getEnv("API_TOKEN", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDir:   getEnv("LOG_DIR", ""),
		Language: getEnv("LANGUAGE", "en"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	switch c.Storage {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE must be postgres or memory, got %q", c.Storage)
	}
	if c.Telegram.BatchSize <= 0 {
		return fmt.Errorf("NOTIFY_BATCH_SIZE must be positive")
	}
	if c.Quotes.Timeout <= 0 {
		return fmt.Errorf("QUOTE_TIMEOUT must be positive")
	}
	if c.Monitor.Schedule == "" {
		return fmt.Errorf("MONITOR_SCHEDULE is required")
	}
	if _, err := market.NewRegistry(c.Markets); err != nil {
		return err
	}
	return nil
}

type marketsFile struct {
	Markets []market.Market `yaml:"markets"`
}

// LoadMarketsFile накладывает значения из YAML на base (по коду рынка).
// Рынки, которых нет в base, добавляются целиком.
func LoadMarketsFile(path string, base []market.Market) ([]market.Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}

	var file marketsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse markets file: %w", err)
	}

	out := append([]market.Market(nil), base...)
	for _, override := range file.Markets {
		code := strings.ToUpper(override.Code)
		idx := -1
		for i := range out {
			if out[i].Code == code {
				idx = i
				break
			}
		}
		if idx < 0 {
			override.Code = code
			out = append(out, override)
			continue
		}
		mergeMarket(&out[idx], override)
	}
	return out, nil
}

func mergeMarket(dst *market.Market, src market.Market) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Currency != "" {
		dst.Currency = src.Currency
	}
	if src.Suffixes != nil {
		dst.Suffixes = src.Suffixes
	}
	if src.Timezone != "" {
		dst.Timezone = src.Timezone
	}
	if src.StandardTradeSize > 0 {
		dst.StandardTradeSize = src.StandardTradeSize
	}
	if src.InitialCapital > 0 {
		dst.InitialCapital = src.InitialCapital
	}
	if src.ExecutionSchedule != "" {
		dst.ExecutionSchedule = src.ExecutionSchedule
	}
	if src.OpenTime != "" {
		dst.OpenTime = src.OpenTime
	}
	if src.CloseTime != "" {
		dst.CloseTime = src.CloseTime
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseChatIDs(val string) ([]int64, error) {
	var ids []int64
	for _, part := range splitAndTrim(val) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
