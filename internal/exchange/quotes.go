package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/swing-trader/internal/domain"
)

// QuoteClient получает последнюю цену из chart-API (формат Yahoo Finance)
type QuoteClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// NewQuoteClient creates a client with a per-request timeout. Requests are
// paced to rps per second (0 disables pacing).
func NewQuoteClient(baseURL string, timeout time.Duration, rps float64) *QuoteClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &QuoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name identifies the source in logs.
func (c *QuoteClient) Name() string {
	return c.baseURL
}

// GetPrice возвращает текущую цену символа
func (c *QuoteClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", c.baseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s returned %d", domain.ErrPriceUnavailable, symbol, resp.StatusCode)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chart.Chart.Error != nil {
		return 0, fmt.Errorf("%w: %s: %s", domain.ErrPriceUnavailable, chart.Chart.Error.Code, chart.Chart.Error.Description)
	}

	if len(chart.Chart.Result) == 0 {
		return 0, fmt.Errorf("%w: no price data for symbol %s", domain.ErrPriceUnavailable, symbol)
	}

	price := chart.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return 0, fmt.Errorf("%w: empty price data for symbol %s", domain.ErrPriceUnavailable, symbol)
	}

	return price, nil
}
