package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// maxMessageLength: лимит Telegram на одно сообщение
const maxMessageLength = 4096

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// DeliveryResult: итог доставки одному получателю
type DeliveryResult struct {
	ChatID    int64  `json:"chat_id"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Notifier рассылает сообщения подписчикам пачками с паузой между пачками.
// Ошибки доставки фиксируются по получателю и не возвращаются вызывающему.
type Notifier struct {
	sender      Sender
	subscribers domain.SubscriberStore
	batchSize   int
	limiter     *rate.Limiter
	logger      *utils.Logger
}

func NewNotifier(sender Sender, subscribers domain.SubscriberStore, batchSize int, batchInterval time.Duration, logger *utils.Logger) *Notifier {
	if batchSize <= 0 {
		batchSize = 25
	}
	limit := rate.Inf
	if batchInterval > 0 {
		limit = rate.Every(batchInterval)
	}
	return &Notifier{
		sender:      sender,
		subscribers: subscribers,
		batchSize:   batchSize,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}
}

// NewBotSender подключается к Telegram Bot API
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return api, nil
}

// BroadcastToSubscribers отправляет message всем активным подписчикам audience
// (AudienceAll или код рынка)
func (n *Notifier) BroadcastToSubscribers(ctx context.Context, message, audience string) []DeliveryResult {
	subs, err := n.subscribers.GetActiveSubscribers(ctx)
	if err != nil {
		n.logger.Error("❌ Failed to load subscribers: %v", err)
		return nil
	}

	var recipients []int64
	for _, s := range subs {
		if matchesAudience(s.Market, audience) {
			recipients = append(recipients, s.ChatID)
		}
	}
	if len(recipients) == 0 {
		n.logger.Debug("no subscribers for audience %s", audience)
		return nil
	}

	parts := splitMessage(message, maxMessageLength)
	results := make([]DeliveryResult, 0, len(recipients))

	for start := 0; start < len(recipients); start += n.batchSize {
		end := start + n.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		if err := n.limiter.Wait(ctx); err != nil {
			for _, chatID := range recipients[start:] {
				results = append(results, DeliveryResult{ChatID: chatID, Error: err.Error()})
			}
			break
		}

		for _, chatID := range recipients[start:end] {
			results = append(results, n.deliver(chatID, parts))
		}
	}

	delivered := 0
	for _, r := range results {
		if r.Delivered {
			delivered++
		}
	}
	if delivered < len(results) {
		n.logger.Warn("⚠️ Notification delivered to %d/%d subscribers (%s)", delivered, len(results), audience)
	} else {
		n.logger.Info("📨 Notification delivered to %d subscribers (%s)", delivered, audience)
	}
	return results
}

func (n *Notifier) deliver(chatID int64, parts []string) DeliveryResult {
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error("Failed to send telegram message to %d: %v", chatID, err)
			return DeliveryResult{ChatID: chatID, Error: fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err).Error()}
		}
	}
	return DeliveryResult{ChatID: chatID, Delivered: true}
}

func matchesAudience(subscriberMarket, audience string) bool {
	if subscriberMarket == "" || strings.EqualFold(subscriberMarket, domain.AudienceAll) {
		return true
	}
	if audience == "" || strings.EqualFold(audience, domain.AudienceAll) {
		return true
	}
	return strings.EqualFold(subscriberMarket, audience)
}

// splitMessage разбивает длинное сообщение на части
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		for len(line) > maxLength {
			if currentMessage != "" {
				messages = append(messages, currentMessage)
				currentMessage = ""
			}
			messages = append(messages, line[:maxLength])
			line = line[maxLength:]
		}
		if currentMessage != "" && len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}

// LogSender пишет сообщения в лог вместо Telegram (нет токена или dry run)
type LogSender struct {
	Logger *utils.Logger
}

func (s LogSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.Logger.Info("📨 [dry-run] to %d:\n%s", msg.ChatID, msg.Text)
		return tgbotapi.Message{Text: msg.Text}, nil
	}
	return tgbotapi.Message{}, nil
}
