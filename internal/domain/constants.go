package domain

// Signal statuses
const (
	SignalStatusPending   = "pending"
	SignalStatusAdded     = "added"
	SignalStatusDismissed = "dismissed"
)

// Trade statuses
const (
	TradeStatusActive = "active"
	TradeStatusClosed = "closed"
)

// Exit types (alert_type в exit_checks)
const (
	ExitTypeTarget    = "target_reached"
	ExitTypeStopLoss  = "stop_loss"
	ExitTypeMaxDays   = "max_holding_days"
	ExitTypeSquareOff = "square_off"
)

// ValidationCode код отказа CapitalLedger
type ValidationCode string

const (
	CodeTotalLimit          ValidationCode = "TOTAL_LIMIT"
	CodeMarketNotFound      ValidationCode = "MARKET_NOT_FOUND"
	CodeMarketLimit         ValidationCode = "MARKET_LIMIT"
	CodeInsufficientCapital ValidationCode = "INSUFFICIENT_CAPITAL"
	CodeDuplicatePosition   ValidationCode = "DUPLICATE_POSITION"
)

// IsCapacityLimit сообщает, связан ли отказ с лимитами капитала или позиций
func (c ValidationCode) IsCapacityLimit() bool {
	switch c {
	case CodeTotalLimit, CodeMarketLimit, CodeInsufficientCapital:
		return true
	}
	return false
}

// Special audiences
const (
	AudienceAll = "ALL"
)

// Owner reference for trades created by the execution job
const (
	OwnerAutoExecutor = "auto-executor"
)

// Lease names
const (
	LeaseMonitor       = "monitor"
	LeaseExecutePrefix = "execute:"
)

// Log levels
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)
