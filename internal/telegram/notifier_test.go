package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/storage/memory"
	"github.com/kirillm/swing-trader/pkg/utils"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []tgbotapi.MessageConfig
	failTo map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if f.failTo[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{Text: msg.Text}, nil
}

func seedSubscribers(t *testing.T, store *memory.Store, subs ...domain.Subscriber) {
	t.Helper()
	for i := range subs {
		require.NoError(t, store.UpsertSubscriber(context.Background(), &subs[i]))
	}
}

func TestBroadcastToSubscribers_AudienceFilter(t *testing.T) {
	store := memory.New()
	seedSubscribers(t, store,
		domain.Subscriber{ChatID: 1, Market: domain.AudienceAll, Active: true},
		domain.Subscriber{ChatID: 2, Market: "US", Active: true},
		domain.Subscriber{ChatID: 3, Market: "IN", Active: true},
		domain.Subscriber{ChatID: 4, Market: "US", Active: false},
	)
	sender := &fakeSender{}
	n := NewNotifier(sender, store, 25, 0, utils.NewNopLogger())

	results := n.BroadcastToSubscribers(context.Background(), "hello", "US")

	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ChatID)
	assert.Equal(t, int64(2), results[1].ChatID)
	assert.Len(t, sender.sent, 2)

	all := n.BroadcastToSubscribers(context.Background(), "hello", domain.AudienceAll)
	assert.Len(t, all, 3)
}

func TestBroadcastToSubscribers_FailuresRecordedPerRecipient(t *testing.T) {
	store := memory.New()
	seedSubscribers(t, store,
		domain.Subscriber{ChatID: 10, Active: true},
		domain.Subscriber{ChatID: 11, Active: true},
	)
	sender := &fakeSender{failTo: map[int64]bool{10: true}}
	n := NewNotifier(sender, store, 25, 0, utils.NewNopLogger())

	results := n.BroadcastToSubscribers(context.Background(), "exit alert", domain.AudienceAll)

	require.Len(t, results, 2)
	assert.False(t, results[0].Delivered)
	assert.Contains(t, results[0].Error, "blocked")
	assert.True(t, results[1].Delivered)
}

func TestBroadcastToSubscribers_PacesBatches(t *testing.T) {
	store := memory.New()
	for i := int64(1); i <= 5; i++ {
		seedSubscribers(t, store, domain.Subscriber{ChatID: i, Active: true})
	}
	sender := &fakeSender{}
	n := NewNotifier(sender, store, 2, 40*time.Millisecond, utils.NewNopLogger())

	start := time.Now()
	results := n.BroadcastToSubscribers(context.Background(), "batch", domain.AudienceAll)

	assert.Len(t, results, 5)
	// three batches -> two pauses
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestBroadcastToSubscribers_CancelledContext(t *testing.T) {
	store := memory.New()
	for i := int64(1); i <= 3; i++ {
		seedSubscribers(t, store, domain.Subscriber{ChatID: i, Active: true})
	}
	n := NewNotifier(&fakeSender{}, store, 1, time.Hour, utils.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := n.BroadcastToSubscribers(ctx, "late", domain.AudienceAll)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Delivered)
	}
}

func TestSplitMessage(t *testing.T) {
	short := "short message"
	assert.Equal(t, []string{short}, splitMessage(short, 100))

	long := strings.Repeat("line of text\n", 20)
	parts := splitMessage(long, 50)
	assert.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 50)
	}
	assert.Equal(t, long, strings.Join(parts, "\n"))

	huge := strings.Repeat("x", 120)
	for _, p := range splitMessage(huge, 50) {
		assert.LessOrEqual(t, len(p), 50)
	}
}
