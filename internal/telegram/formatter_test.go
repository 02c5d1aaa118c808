package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFormatter_T(t *testing.T) {
	tests := []struct {
		name string
		lang Lang
		key  string
		want string
	}{
		{"english status", LangEN, "status", "Status"},
		{"russian status", LangRU, "status", "Статус"},
		{"english error", LangEN, "error", "Error"},
		{"russian error", LangRU, "error", "Ошибка"},
		{"exit reason", LangEN, "stop_loss", "Stop loss hit"},
		{"unknown key", LangEN, "unknown_key", "unknown_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFormatter(tt.lang)
			if got := f.T(tt.key); got != tt.want {
				t.Errorf("T() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatter_SetGetLang(t *testing.T) {
	f := NewFormatter("de")

	if f.GetLang() != LangEN {
		t.Error("Unsupported language should fall back to English")
	}

	f.SetLang(LangRU)

	if f.GetLang() != LangRU {
		t.Error("Language should be Russian after SetLang")
	}
}

func TestFormatter_FormatExecutionSummary(t *testing.T) {
	f := NewFormatter(LangEN)

	result := f.FormatExecutionSummary(ExecutionDigest{
		Market:   "US",
		Total:    3,
		Executed: []DigestItem{{Symbol: "AAPL", Detail: "#12 500.00 USD"}},
		Failed:   []DigestItem{{Symbol: "MSFT", Detail: "DUPLICATE_POSITION"}},
		Skipped:  []DigestItem{{Symbol: "NVDA", Detail: "MARKET_LIMIT"}},
		Duration: 1500 * time.Millisecond,
	})

	for _, want := range []string{"US", "Total: 3", "AAPL", "MSFT", "NVDA", "1s"} {
		if !strings.Contains(result, want) {
			t.Errorf("summary should contain %q:\n%s", want, result)
		}
	}
}

func TestFormatter_FormatTradeExit(t *testing.T) {
	f := NewFormatter(LangEN)

	result := f.FormatTradeExit(ExitNotice{
		TradeID: 4, Symbol: "VOD.L", Market: "UK", Currency: "GBP",
		ExitType: "stop_loss", EntryPrice: 100, ExitPrice: 94.5,
		PLPercent: -5.5, PLAmount: -22, DaysHeld: 6,
	})

	if !strings.Contains(result, "🔴") {
		t.Error("loss should be marked red")
	}
	if !strings.Contains(result, "Stop loss hit") {
		t.Error("reason should be human readable")
	}
	if !strings.Contains(result, "-5.50%") || !strings.Contains(result, "-22.00 GBP") {
		t.Errorf("P&L missing:\n%s", result)
	}
}

func TestFormatter_EscapesMarkdown(t *testing.T) {
	f := NewFormatter(LangEN)

	summary := f.FormatExecutionSummary(ExecutionDigest{
		Market: "US",
		Total:  1,
		Failed: []DigestItem{{Symbol: "BRK_B", Detail: "pq: column *size* [trade_size] missing"}},
	})
	for _, want := range []string{`BRK\_B`, `\*size\*`, `\[trade\_size]`} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary should contain %q:\n%s", want, summary)
		}
	}
	if strings.Contains(summary, "BRK_B") {
		t.Errorf("raw underscore leaked into markdown:\n%s", summary)
	}

	exit := f.FormatTradeExit(ExitNotice{Symbol: "BRK_B", Market: "US", ExitType: "target"})
	if !strings.Contains(exit, `BRK\_B`) {
		t.Errorf("exit notice should escape symbol:\n%s", exit)
	}

	if got := f.FormatError(errors.New("bad *input*")); !strings.Contains(got, `bad \*input\*`) {
		t.Errorf("FormatError() = %v", got)
	}
}

func TestFormatError(t *testing.T) {
	f := NewFormatter(LangRU)
	if got := f.FormatError(errors.New("boom")); !strings.Contains(got, "Ошибка: boom") {
		t.Errorf("FormatError() = %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
