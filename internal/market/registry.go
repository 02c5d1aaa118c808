package market

import (
	"fmt"
	"strings"

	"github.com/kirillm/swing-trader/internal/domain"
)

// Registry holds the configured markets in declaration order.
type Registry struct {
	markets  map[string]*Market
	order    []string
	fallback string
}

// NewRegistry validates markets and indexes them by code. Exactly one market
// may omit suffixes; it receives every symbol no other market claims.
func NewRegistry(markets []Market) (*Registry, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: no markets configured", domain.ErrConfiguration)
	}

	r := &Registry{markets: make(map[string]*Market, len(markets))}
	for i := range markets {
		m := markets[i]
		m.Suffixes = append([]string(nil), m.Suffixes...)
		if err := m.prepare(); err != nil {
			return nil, err
		}
		if _, dup := r.markets[m.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate market %s", domain.ErrConfiguration, m.Code)
		}
		if len(m.Suffixes) == 0 {
			if r.fallback != "" {
				return nil, fmt.Errorf("%w: markets %s and %s both lack suffixes", domain.ErrConfiguration, r.fallback, m.Code)
			}
			r.fallback = m.Code
		}
		r.markets[m.Code] = &m
		r.order = append(r.order, m.Code)
	}
	if r.fallback == "" {
		r.fallback = r.order[len(r.order)-1]
	}
	return r, nil
}

// MustDefaultRegistry builds the registry from DefaultMarkets.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultMarkets())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the market by code.
func (r *Registry) Get(code string) (*Market, bool) {
	m, ok := r.markets[strings.ToUpper(code)]
	return m, ok
}

// All returns markets in configuration order.
func (r *Registry) All() []*Market {
	out := make([]*Market, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.markets[code])
	}
	return out
}

// Codes returns market codes in configuration order.
func (r *Registry) Codes() []string {
	return append([]string(nil), r.order...)
}

// Resolve maps a symbol to its market by suffix (".NS"/".BO" -> IN, ".L" -> UK,
// anything else -> the fallback market).
func (r *Registry) Resolve(symbol string) string {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, code := range r.order {
		for _, suffix := range r.markets[code].Suffixes {
			if strings.HasSuffix(upper, suffix) {
				return code
			}
		}
	}
	return r.fallback
}
