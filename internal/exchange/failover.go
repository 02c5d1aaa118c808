package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// PriceSource источник цен
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceFailover failover механизм для получения цен
type PriceFailover struct {
	primarySource   PriceSource
	fallbackSources []PriceSource
	timeout         time.Duration
	cacheTTL        time.Duration
	logger          *utils.Logger
	now             func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewPriceFailover создает новый price failover. timeout ограничивает весь
// запрос цены, включая запасные источники
func NewPriceFailover(primarySource PriceSource, timeout, cacheTTL time.Duration, logger *utils.Logger) *PriceFailover {
	return &PriceFailover{
		primarySource: primarySource,
		timeout:       timeout,
		cacheTTL:      cacheTTL,
		logger:        logger,
		now:           time.Now,
		cache:         make(map[string]cachedPrice),
	}
}

// AddFallbackSource добавляет запасной источник цен
func (pf *PriceFailover) AddFallbackSource(source PriceSource) {
	pf.fallbackSources = append(pf.fallbackSources, source)
}

// FetchCurrentPrice получает цену с failover; любая неудача -> ErrPriceUnavailable
func (pf *PriceFailover) FetchCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if pf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pf.timeout)
		defer cancel()
	}

	// Пробуем основной источник
	price, err := pf.primarySource.GetPrice(ctx, symbol)
	if err == nil {
		pf.remember(symbol, price)
		return price, nil
	}
	pf.logger.Debug("primary price source failed for %s: %v", symbol, err)

	// Основной источник недоступен, пробуем fallback
	for i, source := range pf.fallbackSources {
		if ctx.Err() != nil {
			break
		}
		price, err := source.GetPrice(ctx, symbol)
		if err == nil {
			pf.logger.Warn("⚠️ Using fallback source #%d for %s price", i+1, symbol)
			pf.remember(symbol, price)
			return price, nil
		}
	}

	// Все источники недоступны, используем кеш если есть
	pf.mu.Lock()
	cached, ok := pf.cache[symbol]
	pf.mu.Unlock()
	if ok {
		age := pf.now().Sub(cached.timestamp)
		if age < pf.cacheTTL {
			pf.logger.Warn("⚠️ Using cached price for %s (age: %v)", symbol, age.Round(time.Second))
			return cached.price, nil
		}
	}

	return 0, fmt.Errorf("%s: %w", symbol, domain.ErrPriceUnavailable)
}

func (pf *PriceFailover) remember(symbol string, price float64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.cache[symbol] = cachedPrice{
		price:     price,
		timestamp: pf.now(),
	}
}
