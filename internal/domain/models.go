package domain

import "time"

// Signal представляет торговый сигнал от внешнего сканера
type Signal struct {
	ID                    int64     `db:"id"`
	Symbol                string    `db:"symbol"`
	Market                string    `db:"market"`
	EntryPrice            float64   `db:"entry_price"`
	TargetPrice           float64   `db:"target_price"`
	WinRate               float64   `db:"win_rate"`
	HistoricalSignalCount int       `db:"historical_signal_count"`
	EntryDTI              float64   `db:"entry_dti"`       // DTI на момент сигнала (для отображения)
	EntryDTI7DayAvg       float64   `db:"entry_dti_7d_avg"` // средний DTI за 7 дней
	SignalDate            time.Time `db:"signal_date"`     // дата (00:00 UTC) по календарю рынка
	Status                string    `db:"status"`          // "pending", "added", "dismissed"
	LinkedTradeID         *int64    `db:"linked_trade_id"`
	CreatedAt             time.Time `db:"created_at"`
}

// Trade представляет позицию, открытую по сигналу
type Trade struct {
	ID                    int64      `db:"id"`
	Symbol                string     `db:"symbol"`
	Market                string     `db:"market"`
	Status                string     `db:"status"` // "active" or "closed"
	EntryDate             time.Time  `db:"entry_date"`
	EntryPrice            float64    `db:"entry_price"`
	TargetPrice           float64    `db:"target_price"`
	StopLossPercent       float64    `db:"stop_loss_percent"`
	TradeSize             float64    `db:"trade_size"`
	Quantity              float64    `db:"quantity"`
	Currency              string     `db:"currency"`
	WinRate               float64    `db:"win_rate"`
	HistoricalSignalCount int        `db:"historical_signal_count"`
	EntryDTI              float64    `db:"entry_dti"`
	EntryDTI7DayAvg       float64    `db:"entry_dti_7d_avg"`
	SignalID              *int64     `db:"signal_id"`
	AutoAdded             bool       `db:"auto_added"`
	OwnerRef              string     `db:"owner_ref"`
	SquareOffDate         *time.Time `db:"square_off_date"`
	ExitDate              *time.Time `db:"exit_date"`
	ExitPrice             *float64   `db:"exit_price"`
	ProfitLoss            *float64   `db:"profit_loss"` // в валюте рынка
	ProfitLossPercent     *float64   `db:"profit_loss_percent"`
	ExitReason            *string    `db:"exit_reason"`
	CreatedAt             time.Time  `db:"created_at"`

	// Устаревшие колонки старых записей, учитываются при расчете P/L
	InvestmentAmount     *float64 `db:"investment_amount"`
	ProfitLossPercentage *float64 `db:"profit_loss_percentage"`
}

// TradeExit содержит поля, заполняемые при закрытии сделки
type TradeExit struct {
	ExitDate          time.Time
	ExitPrice         float64
	ProfitLossPercent float64
	ExitReason        string
}

// PortfolioCapital представляет капитал одного рынка
type PortfolioCapital struct {
	Market         string    `db:"market"`
	Currency       string    `db:"currency"`
	InitialCapital float64   `db:"initial_capital"`
	RealizedPL     float64   `db:"realized_pl"`
	Allocated      float64   `db:"allocated"`
	PositionCount  int       `db:"position_count"`
	MaxPositions   int       `db:"max_positions"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Available возвращает свободный капитал рынка
func (p PortfolioCapital) Available() float64 {
	return p.InitialCapital + p.RealizedPL - p.Allocated
}

// ExitFlags: результаты проверок правил выхода
type ExitFlags struct {
	TargetReached    bool
	StopLossHit      bool
	MaxDaysReached   bool
	SquareOffReached bool
}

// ExitCheckRecord: запись аудита одной проверки сделки монитором
type ExitCheckRecord struct {
	ID               int64     `db:"id"`
	TradeID          int64     `db:"trade_id"`
	CurrentPrice     float64   `db:"current_price"`
	PLPercent        float64   `db:"pl_percent"`
	DaysHeld         int       `db:"days_held"`
	TargetReached    bool      `db:"target_reached"`
	StopLossHit      bool      `db:"stop_loss_hit"`
	MaxDaysReached   bool      `db:"max_days_reached"`
	SquareOffReached bool      `db:"square_off_reached"`
	AlertSent        bool      `db:"alert_sent"`
	AlertType        string    `db:"alert_type"` // пусто если алерт не отправлялся
	CheckTime        time.Time `db:"check_time"`
}

// Subscriber представляет получателя уведомлений в Telegram
type Subscriber struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	Market    string    `db:"market"` // "ALL" или код рынка
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// ExecutionRun: сохраненная сводка одного запуска исполнения сигналов
type ExecutionRun struct {
	ID         string    `db:"id"` // ULID
	Market     string    `db:"market"`
	Trigger    string    `db:"trigger"` // "scheduled" or "manual"
	Total      int       `db:"total"`
	Executed   int       `db:"executed"`
	Failed     int       `db:"failed"`
	Skipped    int       `db:"skipped"`
	DurationMs int64     `db:"duration_ms"`
	Details    string    `db:"details"` // JSON
	StartedAt  time.Time `db:"started_at"`
}

// Log представляет системное событие
type Log struct {
	ID        int64     `db:"id"`
	Level     string    `db:"level"` // "INFO", "WARN", "ERROR"
	Message   string    `db:"message"`
	Data      string    `db:"data"` // JSON
	CreatedAt time.Time `db:"created_at"`
}
