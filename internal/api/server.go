package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirillm/swing-trader/internal/capital"
	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/internal/execution"
	"github.com/kirillm/swing-trader/internal/market"
	"github.com/kirillm/swing-trader/internal/monitor"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// CapitalReporter отдает состояние капитала
type CapitalReporter interface {
	GetCapitalStatus(ctx context.Context) (*capital.Status, error)
}

// ExecutionRunner запускает исполнение вручную и хранит журнал запусков
type ExecutionRunner interface {
	ManualExecute(ctx context.Context, marketCode string) execution.Summary
	History() []execution.Summary
}

// ExitChecker запускает один проход монитора
type ExitChecker interface {
	RunOnce(ctx context.Context) monitor.TickSummary
}

// SignalWriter принимает сигналы от внешнего сканера
type SignalWriter interface {
	InsertSignal(ctx context.Context, signal *domain.Signal) error
}

type Deps struct {
	Capital  CapitalReporter
	Executor ExecutionRunner
	Monitor  ExitChecker
	Trades   domain.TradeStore
	Runs     domain.ExecutionRunStore // опционально, иначе журнал в памяти
	Signals  SignalWriter
	Registry *market.Registry
	Token    string
	Version  string
	Logger   *utils.Logger
}

type Server struct {
	router  *gin.Engine
	deps    Deps
	logger  *utils.Logger
	started time.Time
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type SignalRequest struct {
	Symbol                string  `json:"symbol" binding:"required"`
	Market                string  `json:"market"`
	EntryPrice            float64 `json:"entry_price" binding:"required,gt=0"`
	TargetPrice           float64 `json:"target_price"`
	WinRate               float64 `json:"win_rate"`
	HistoricalSignalCount int     `json:"historical_signal_count"`
	EntryDTI              float64 `json:"entry_dti"`
	EntryDTI7DayAvg       float64 `json:"entry_dti_7d_avg"`
	SignalDate            string  `json:"signal_date"` // YYYY-MM-DD, по умолчанию сегодня на рынке
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(logger))

	s := &Server{
		router:  r,
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(tokenAuth(s.deps.Token))
	{
		api.GET("/capital", s.handleCapital)
		api.GET("/trades/active", s.handleActiveTrades)
		api.GET("/executions", s.handleExecutions)
		api.POST("/executions/:market", s.handleExecute)
		api.POST("/monitor/run", s.handleMonitorRun)
		api.POST("/signals", s.handleAddSignal)
	}
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 Starting HTTP server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	s.sendSuccess(c, gin.H{
		"status":    "healthy",
		"version":   s.deps.Version,
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleCapital(c *gin.Context) {
	status, err := s.deps.Capital.GetCapitalStatus(c.Request.Context())
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to get capital status: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(c, status)
}

func (s *Server) handleActiveTrades(c *gin.Context) {
	trades, err := s.deps.Trades.GetActiveTrades(c.Request.Context())
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to get active trades: %v", err), http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	s.sendSuccess(c, trades)
}

func (s *Server) handleExecutions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		s.sendError(c, "limit must be between 1 and 500", http.StatusBadRequest)
		return
	}

	if s.deps.Runs != nil {
		runs, err := s.deps.Runs.GetRecentExecutionRuns(c.Request.Context(), limit)
		if err != nil {
			s.sendError(c, fmt.Sprintf("Failed to get execution runs: %v", err), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []domain.ExecutionRun{}
		}
		s.sendSuccess(c, runs)
		return
	}

	history := s.deps.Executor.History()
	// новые первыми
	out := make([]execution.Summary, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	s.sendSuccess(c, out)
}

func (s *Server) handleExecute(c *gin.Context) {
	code := strings.ToUpper(c.Param("market"))
	if _, ok := s.deps.Registry.Get(code); !ok {
		s.sendError(c, fmt.Sprintf("unknown market: %s", code), http.StatusNotFound)
		return
	}
	s.sendSuccess(c, s.deps.Executor.ManualExecute(c.Request.Context(), code))
}

func (s *Server) handleMonitorRun(c *gin.Context) {
	summary := s.deps.Monitor.RunOnce(c.Request.Context())
	if summary.Note != "" && summary.Checked == 0 {
		c.JSON(http.StatusConflict, Response{Success: false, Data: summary, Error: summary.Note})
		return
	}
	s.sendSuccess(c, summary)
}

func (s *Server) handleAddSignal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	code := strings.ToUpper(req.Market)
	if code == "" {
		code = s.deps.Registry.Resolve(symbol)
	}
	m, ok := s.deps.Registry.Get(code)
	if !ok {
		s.sendError(c, fmt.Sprintf("unknown market: %s", code), http.StatusBadRequest)
		return
	}

	signalDate := m.Today(time.Now())
	if req.SignalDate != "" {
		d, err := time.Parse("2006-01-02", req.SignalDate)
		if err != nil {
			s.sendError(c, "signal_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		signalDate = d
	}

	signal := &domain.Signal{
		Symbol:                symbol,
		Market:                m.Code,
		EntryPrice:            req.EntryPrice,
		TargetPrice:           req.TargetPrice,
		WinRate:               req.WinRate,
		HistoricalSignalCount: req.HistoricalSignalCount,
		EntryDTI:              req.EntryDTI,
		EntryDTI7DayAvg:       req.EntryDTI7DayAvg,
		SignalDate:            signalDate,
		Status:                domain.SignalStatusPending,
	}
	if err := s.deps.Signals.InsertSignal(c.Request.Context(), signal); err != nil {
		s.sendError(c, fmt.Sprintf("Failed to save signal: %v", err), http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: signal})
}

func (s *Server) sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) sendError(c *gin.Context, message string, statusCode int) {
	c.JSON(statusCode, Response{Success: false, Error: message})
}
