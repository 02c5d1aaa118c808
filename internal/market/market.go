// Package market describes the trading venues: currency, timezone, symbol
// suffixes, trading hours and the capital parameters used by the ledger.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
)

// Market describes one trading venue.
type Market struct {
	Code              string   `yaml:"code"`
	Name              string   `yaml:"name"`
	Currency          string   `yaml:"currency"`
	Suffixes          []string `yaml:"suffixes"` // empty = fallback market
	Timezone          string   `yaml:"timezone"`
	StandardTradeSize float64  `yaml:"standard_trade_size"`
	InitialCapital    float64  `yaml:"initial_capital"`
	ExecutionSchedule string   `yaml:"execution_schedule"` // cron, market local time
	OpenTime          string   `yaml:"open_time"`          // "09:15"
	CloseTime         string   `yaml:"close_time"`         // "15:30"

	location *time.Location
	openMin  int
	closeMin int
}

// DefaultMarkets returns the built-in three-market setup.
func DefaultMarkets() []Market {
	return []Market{
		{
			Code:              "IN",
			Name:              "India (NSE/BSE)",
			Currency:          "INR",
			Suffixes:          []string{".NS", ".BO"},
			Timezone:          "Asia/Kolkata",
			StandardTradeSize: 50000,
			InitialCapital:    500000,
			ExecutionSchedule: "0 13 * * 1-5",
			OpenTime:          "09:15",
			CloseTime:         "15:30",
		},
		{
			Code:              "UK",
			Name:              "United Kingdom (LSE)",
			Currency:          "GBP",
			Suffixes:          []string{".L"},
			Timezone:          "Europe/London",
			StandardTradeSize: 400,
			InitialCapital:    4000,
			ExecutionSchedule: "0 13 * * 1-5",
			OpenTime:          "08:00",
			CloseTime:         "16:30",
		},
		{
			Code:              "US",
			Name:              "United States",
			Currency:          "USD",
			Timezone:          "America/New_York",
			StandardTradeSize: 500,
			InitialCapital:    5000,
			ExecutionSchedule: "0 13 * * 1-5",
			OpenTime:          "09:30",
			CloseTime:         "16:00",
		},
	}
}

// Location returns the market timezone (UTC until the market is registered).
func (m *Market) Location() *time.Location {
	if m.location == nil {
		return time.UTC
	}
	return m.location
}

// Today returns the current calendar date in the market's clock.
func (m *Market) Today(now time.Time) time.Time {
	return DateIn(now, m.Location())
}

// IsOpen reports whether now falls on a weekday inside the market's trading hours.
// Markets without configured hours are always open.
func (m *Market) IsOpen(now time.Time) bool {
	if m.OpenTime == "" || m.CloseTime == "" {
		return true
	}
	local := now.In(m.Location())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= m.openMin && minute < m.closeMin
}

func (m *Market) prepare() error {
	if m.Code == "" {
		return fmt.Errorf("%w: market code is required", domain.ErrConfiguration)
	}
	if m.Currency == "" {
		return fmt.Errorf("%w: market %s: currency is required", domain.ErrConfiguration, m.Code)
	}
	if m.StandardTradeSize <= 0 {
		return fmt.Errorf("%w: market %s: standard_trade_size must be positive", domain.ErrConfiguration, m.Code)
	}
	tz := m.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: market %s: invalid timezone %q: %v", domain.ErrConfiguration, m.Code, tz, err)
	}
	m.location = loc

	if m.OpenTime != "" || m.CloseTime != "" {
		if m.openMin, err = parseClock(m.OpenTime); err != nil {
			return fmt.Errorf("%w: market %s: open_time: %v", domain.ErrConfiguration, m.Code, err)
		}
		if m.closeMin, err = parseClock(m.CloseTime); err != nil {
			return fmt.Errorf("%w: market %s: close_time: %v", domain.ErrConfiguration, m.Code, err)
		}
		if m.closeMin <= m.openMin {
			return fmt.Errorf("%w: market %s: close_time must be after open_time", domain.ErrConfiguration, m.Code)
		}
	}
	for i, s := range m.Suffixes {
		m.Suffixes[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DateIn truncates t to its calendar date in loc, returned as 00:00 UTC of that date.
func DateIn(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate compares two timestamps by calendar date (year, month, day) as stored.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween returns floor((to - from) / 1 day) on calendar dates, weekends included.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
