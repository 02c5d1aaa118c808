package market

import (
	"errors"
	"testing"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	r := MustDefaultRegistry()

	tests := []struct {
		name   string
		symbol string
		want   string
	}{
		{"nse", "RELIANCE.NS", "IN"},
		{"bse", "TCS.BO", "IN"},
		{"lse", "VOD.L", "UK"},
		{"lowercase suffix", "vod.l", "UK"},
		{"us plain", "AAPL", "US"},
		{"us with dot", "BRK.B", "US"},
		{"empty", "", "US"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.symbol))
		})
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		markets []Market
	}{
		{"empty", nil},
		{"missing currency", []Market{{Code: "XX", StandardTradeSize: 1}}},
		{"bad timezone", []Market{{Code: "XX", Currency: "EUR", StandardTradeSize: 1, Timezone: "Mars/Olympus"}}},
		{"bad hours", []Market{{Code: "XX", Currency: "EUR", StandardTradeSize: 1, OpenTime: "16:00", CloseTime: "09:00"}}},
		{"duplicate", []Market{
			{Code: "XX", Currency: "EUR", StandardTradeSize: 1},
			{Code: "XX", Currency: "EUR", StandardTradeSize: 1, Suffixes: []string{".X"}},
		}},
		{"two fallbacks", []Market{
			{Code: "XX", Currency: "EUR", StandardTradeSize: 1},
			{Code: "YY", Currency: "EUR", StandardTradeSize: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.markets)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
		})
	}
}

func TestMarket_TodayUsesLocalClock(t *testing.T) {
	r := MustDefaultRegistry()
	in, _ := r.Get("IN")
	us, _ := r.Get("US")

	// 20:00 UTC on Oct 14 is already Oct 15 in Kolkata, still Oct 14 in New York.
	now := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), in.Today(now))
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), us.Today(now))
}

func TestMarket_IsOpen(t *testing.T) {
	r := MustDefaultRegistry()
	uk, _ := r.Get("UK")

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		// Oct 14 2026 is a Wednesday, London is on BST (UTC+1).
		{"before open", time.Date(2026, 10, 14, 6, 30, 0, 0, time.UTC), false},
		{"at open", time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC), true},
		{"midday", time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uk.IsOpen(tt.now))
		})
	}
}

func TestDaysBetween(t *testing.T) {
	entry := time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(entry, entry))
	assert.Equal(t, 31, DaysBetween(entry, time.Date(2026, 10, 14, 23, 59, 0, 0, time.UTC)))
	// weekends count toward holding days
	assert.Equal(t, 2, DaysBetween(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)))
}
