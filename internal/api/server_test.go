package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/swing-trader/internal/capital"
	"github.com/kirillm/swing-trader/internal/config"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/execution"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/internal/monitor"
	"github.com/kirillm/swing-trader/internal/storage/memory"
	"github.com/kirillm/swing-trader/pkg/utils"
)

type stubMonitor struct {
	summary monitor.TickSummary
}

func (m stubMonitor) RunOnce(context.Context) monitor.TickSummary { return m.summary }

type testEnv struct {
	store  *memory.Store
	server *Server
}

func newTestEnv(t *testing.T, token string, mon ExitChecker) *testEnv {
	t.Helper()
	store := memory.New()
	registry := market.MustDefaultRegistry()
	limits := config.DefaultEngineConfig()
	ledger := capital.NewLedger(store, store, registry, limits, utils.NewNopLogger())
	require.NoError(t, ledger.SeedMarkets(context.Background()))

	executor := execution.NewExecutor(execution.Deps{
		Signals:  store,
		Trades:   store,
		Runs:     store,
		Ledger:   ledger,
		Registry: registry,
		Limits:   limits,
	})
	if mon == nil {
		mon = stubMonitor{}
	}

	return &testEnv{
		store: store,
		server: NewServer(Deps{
			Capital:  ledger,
			Executor: executor,
			Monitor:  mon,
			Trades:   store,
			Runs:     store,
			Signals:  store,
			Registry: registry,
			Token:    token,
			Version:  "test",
		}),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)
	rec, resp := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTokenAuth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)

	rec, resp := env.do(t, http.MethodGet, "/api/capital", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, resp = env.do(t, http.MethodGet, "/api/capital", nil, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestCapital(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec, _ := env.do(t, http.MethodGet, "/api/capital", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data capital.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 30, body.Data.MaxTotalPositions)
	assert.Len(t, body.Data.PerMarket, 3)
}

func TestAddSignalAndExecute(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec, resp := env.do(t, http.MethodPost, "/api/signals", SignalRequest{Symbol: "vod.l", EntryPrice: 1.25, TargetPrice: 1.35}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)

	pending, err := env.store.GetPendingSignals(context.Background(), domain.SignalStatusPending, "UK")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "VOD.L", pending[0].Symbol)

	rec, resp = env.do(t, http.MethodPost, "/api/executions/uk", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.do(t, http.MethodGet, "/api/trades/active", nil, nil)
	var trades struct {
		Data []domain.Trade `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades.Data, 1)
	assert.Equal(t, 400.0, trades.Data[0].TradeSize)

	rec, _ = env.do(t, http.MethodGet, "/api/executions?limit=5", nil, nil)
	var runs struct {
		Data []domain.ExecutionRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.Data, 1)
	assert.Equal(t, 1, runs.Data[0].Executed)
}

func TestAddSignal_Invalid(t *testing.T) {
	env := newTestEnv(t, "", nil)

	tests := []struct {
		name string
		body SignalRequest
	}{
		{"missing symbol", SignalRequest{EntryPrice: 10}},
		{"zero price", SignalRequest{Symbol: "AAPL"}},
		{"unknown market", SignalRequest{Symbol: "AAPL", Market: "JP", EntryPrice: 10}},
		{"bad date", SignalRequest{Symbol: "AAPL", EntryPrice: 10, SignalDate: "14.10.2026"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, http.MethodPost, "/api/signals", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestExecute_UnknownMarket(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec, _ := env.do(t, http.MethodPost, "/api/executions/jp", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutions_BadLimit(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec, _ := env.do(t, http.MethodGet, "/api/executions?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorRun_Busy(t *testing.T) {
	env := newTestEnv(t, "", stubMonitor{summary: monitor.TickSummary{Note: "monitor already running"}})
	rec, resp := env.do(t, http.MethodPost, "/api/monitor/run", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "monitor already running", resp.Error)
}
