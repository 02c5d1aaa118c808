package execution

import (
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
)

// OutcomeKind классифицирует результат обработки одного сигнала
type OutcomeKind string

const (
	OutcomeExecuted OutcomeKind = "executed"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeFailed   OutcomeKind = "failed"
)

// Trigger sources
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Outcome: результат обработки одного сигнала
type Outcome struct {
	Kind      OutcomeKind           `json:"kind"`
	SignalID  int64                 `json:"signal_id"`
	Symbol    string                `json:"symbol"`
	TradeID   int64                 `json:"trade_id,omitempty"`
	TradeSize float64               `json:"trade_size,omitempty"`
	Currency  string                `json:"currency,omitempty"`
	Code      domain.ValidationCode `json:"code,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

func executed(sig domain.Signal, trade *domain.Trade) Outcome {
	return Outcome{
		Kind:      OutcomeExecuted,
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		TradeID:   trade.ID,
		TradeSize: trade.TradeSize,
		Currency:  trade.Currency,
	}
}

func skipped(sig domain.Signal, code domain.ValidationCode, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, SignalID: sig.ID, Symbol: sig.Symbol, Code: code, Reason: reason}
}

func failed(sig domain.Signal, code domain.ValidationCode, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, SignalID: sig.ID, Symbol: sig.Symbol, Code: code, Reason: err.Error()}
}

// Summary: итог одного запуска исполнения по рынку
type Summary struct {
	RunID      string    `json:"run_id"`
	Market     string    `json:"market"`
	Trigger    string    `json:"trigger"`
	Total      int       `json:"total"`
	Executed   int       `json:"executed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	Outcomes   []Outcome `json:"outcomes"`
	// Note объясняет, почему запуск ничего не сделал (lease, повторный запуск, ошибка)
	Note string `json:"note,omitempty"`
}

// Items returns the outcomes of one kind in processing order.
func (s Summary) Items(kind OutcomeKind) []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func summarize(s Summary, outcomes []Outcome, elapsed time.Duration) Summary {
	s.Outcomes = outcomes
	s.Total = len(outcomes)
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeExecuted:
			s.Executed++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		}
	}
	s.DurationMs = elapsed.Milliseconds()
	return s
}
