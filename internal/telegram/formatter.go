package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует уведомления для подписчиков
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// SetLang устанавливает язык
func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	"execution":        {LangEN: "Signal Execution", LangRU: "Исполнение сигналов"},
	"executed":         {LangEN: "Executed", LangRU: "Исполнено"},
	"failed":           {LangEN: "Failed", LangRU: "Ошибки"},
	"skipped":          {LangEN: "Skipped", LangRU: "Пропущено"},
	"total":            {LangEN: "Total", LangRU: "Всего"},
	"duration":         {LangEN: "Duration", LangRU: "Длительность"},
	"trade_closed":     {LangEN: "Trade Closed", LangRU: "Сделка закрыта"},
	"entry":            {LangEN: "Entry", LangRU: "Вход"},
	"exit":             {LangEN: "Exit", LangRU: "Выход"},
	"pnl":              {LangEN: "P&L", LangRU: "P&L"},
	"held":             {LangEN: "Held", LangRU: "Удержание"},
	"days":             {LangEN: "days", LangRU: "дн."},
	"reason":           {LangEN: "Reason", LangRU: "Причина"},
	"target_reached":   {LangEN: "Target reached", LangRU: "Цель достигнута"},
	"stop_loss":        {LangEN: "Stop loss hit", LangRU: "Сработал стоп-лосс"},
	"max_holding_days": {LangEN: "Max holding period reached", LangRU: "Достигнут максимальный срок"},
	"square_off":       {LangEN: "Square-off date reached", LangRU: "Наступила дата закрытия"},
	"status":           {LangEN: "Status", LangRU: "Статус"},
	"error":            {LangEN: "Error", LangRU: "Ошибка"},
	"success":          {LangEN: "Success", LangRU: "Успешно"},
	"positions":        {LangEN: "Positions", LangRU: "Позиции"},
	"available":        {LangEN: "Available", LangRU: "Доступно"},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// DigestItem: одна строка сводки исполнения
type DigestItem struct {
	Symbol string
	Detail string
}

// ExecutionDigest: данные для сообщения о запуске исполнения
type ExecutionDigest struct {
	Market   string
	Total    int
	Executed []DigestItem
	Failed   []DigestItem
	Skipped  []DigestItem
	Duration time.Duration
}

// FormatExecutionSummary форматирует итоги исполнения сигналов рынка
func (f *Formatter) FormatExecutionSummary(d ExecutionDigest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("🤖 *%s: %s*\n\n", f.T("execution"), md(d.Market)))
	sb.WriteString(fmt.Sprintf("%s: %d | ✅ %d | ❌ %d | ⏭ %d\n",
		f.T("total"), d.Total, len(d.Executed), len(d.Failed), len(d.Skipped)))

	writeSection := func(emoji, title string, items []DigestItem) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(fmt.Sprintf("\n%s %s:\n", emoji, title))
		for _, it := range items {
			sb.WriteString(fmt.Sprintf("• %s: %s\n", md(it.Symbol), md(it.Detail)))
		}
	}
	writeSection("✅", f.T("executed"), d.Executed)
	writeSection("❌", f.T("failed"), d.Failed)
	writeSection("⏭", f.T("skipped"), d.Skipped)

	sb.WriteString(fmt.Sprintf("\n⏱ %s: %s", f.T("duration"), FormatDuration(d.Duration)))
	return sb.String()
}

// ExitNotice: данные для сообщения о закрытии сделки
type ExitNotice struct {
	TradeID    int64
	Symbol     string
	Market     string
	Currency   string
	ExitType   string
	EntryPrice float64
	ExitPrice  float64
	PLPercent  float64
	PLAmount   float64
	DaysHeld   int
}

// FormatTradeExit форматирует уведомление о закрытии сделки
func (f *Formatter) FormatTradeExit(n ExitNotice) string {
	emoji := "🟢"
	if n.PLPercent < 0 {
		emoji = "🔴"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *%s: %s* (%s)\n\n", emoji, f.T("trade_closed"), md(n.Symbol), md(n.Market)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reason"), f.ExitReason(n.ExitType)))
	sb.WriteString(fmt.Sprintf("%s: %.2f → %s: %.2f\n", f.T("entry"), n.EntryPrice, f.T("exit"), n.ExitPrice))
	sb.WriteString(fmt.Sprintf("%s: %+.2f%% (%+.2f %s)\n", f.T("pnl"), n.PLPercent, n.PLAmount, n.Currency))
	sb.WriteString(fmt.Sprintf("%s: %d %s", f.T("held"), n.DaysHeld, f.T("days")))
	return sb.String()
}

// ExitReason возвращает человекочитаемую причину выхода
func (f *Formatter) ExitReason(exitType string) string {
	return f.T(exitType)
}

// FormatError форматирует сообщение об ошибке
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %s", f.T("error"), md(err.Error()))
}

// md экранирует внешний текст (тикеры, ошибки) для ModeMarkdown
func md(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
