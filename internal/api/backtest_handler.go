package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/backtest"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
)

// BacktestHandler handles HTTP requests for the Backtester.
type BacktestHandler struct {
	runner *backtest.Runner
	db     *db.DB
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(runner *backtest.Runner, database *db.DB) *BacktestHandler {
	return &BacktestHandler{runner: runner, db: database}
}

// RunBacktestRequest defines the request body for starting a backtest —
// a symbol's train/validation/test split and cost model, per
// model.BacktestRun.
type RunBacktestRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	SymbolClass    string  `json:"symbol_class" binding:"required,oneof=STOCK CRYPTO"`
	Exchange       string  `json:"exchange" binding:"required"`
	Interval       string  `json:"interval" binding:"required"`
	TrainStart     string  `json:"train_start" binding:"required"`
	TrainEnd       string  `json:"train_end" binding:"required"`
	ValStart       string  `json:"val_start" binding:"required"`
	ValEnd         string  `json:"val_end" binding:"required"`
	TestStart      string  `json:"test_start" binding:"required"`
	TestEnd        string  `json:"test_end" binding:"required"`
	SlippagePct    float64 `json:"slippage_pct"`
	HalfSpreadPct  float64 `json:"half_spread_pct"`
	CommissionPct  float64 `json:"commission_pct"`
	InitialCapital float64 `json:"initial_capital" binding:"required,gt=0"`
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// RunBacktest starts a new backtest run in a background goroutine.
// Runner.Run inserts the run as PENDING, marks it RUNNING and returns its
// run_id only once the replay has finished (COMPLETE or FAILED). The
// handler waits up to 2s for that run_id; a run still going after that is
// answered without a run_id and keeps running after the response.
//
// @Summary Start a backtest run
// @Tags Backtest
// @Accept json
// @Produce json
// @Param request body RunBacktestRequest true "Backtest configuration"
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/backtest/run [post]
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req RunBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	dates := map[string]string{
		"train_start": req.TrainStart, "train_end": req.TrainEnd,
		"val_start": req.ValStart, "val_end": req.ValEnd,
		"test_start": req.TestStart, "test_end": req.TestEnd,
	}
	parsed := make(map[string]time.Time, len(dates))
	for field, raw := range dates {
		t, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field, "details": "expected format YYYY-MM-DD"})
			return
		}
		parsed[field] = t
	}

	backtestReq := backtest.Request{
		Symbol: model.Symbol{
			Ticker: req.Symbol,
			Class:  model.SymbolClass(req.SymbolClass),
		},
		Exchange:       req.Exchange,
		Interval:       req.Interval,
		TrainRange:     model.DateRange{Start: parsed["train_start"], End: parsed["train_end"]},
		ValRange:       model.DateRange{Start: parsed["val_start"], End: parsed["val_end"]},
		TestRange:      model.DateRange{Start: parsed["test_start"], End: parsed["test_end"]},
		InitialCapital: req.InitialCapital,
		CostModel: model.CostModel{
			SlippagePct:   req.SlippagePct,
			HalfSpreadPct: req.HalfSpreadPct,
			CommissionPct: req.CommissionPct,
		},
	}

	// Run executes the replay synchronously; hand it to a goroutine with a
	// context that is not cancelled when this request's response is sent,
	// so the run outlives the HTTP call.
	runID := make(chan string, 1)
	go func() {
		id, err := h.runner.Run(context.WithoutCancel(c.Request.Context()), backtestReq)
		if id != "" {
			runID <- id
		}
		if err != nil {
			log.Error().Err(err).Str("symbol", req.Symbol).Msg("backtest: run failed")
		}
	}()

	select {
	case id := <-runID:
		c.JSON(http.StatusAccepted, gin.H{
			"run_id":  id,
			"status":  model.BacktestPending,
			"message": "backtest run created. Use GET /api/v1/backtest/:id to check status.",
		})
	case <-time.After(2 * time.Second):
		// Runner.Run has not returned within 2s, so no run_id is known
		// here; the run is still proceeding in the background.
		c.JSON(http.StatusAccepted, gin.H{
			"message": "backtest run accepted, still provisioning",
		})
	}
}

// GetBacktest retrieves a backtest run by ID.
//
// @Summary Get backtest run status and results
// @Tags Backtest
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.BacktestRun
// @Failure 404 {object} map[string]string
// @Router /api/v1/backtest/{id} [get]
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.db.GetBacktestRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "backtest run not found", "run_id": runID})
		return
	}

	c.JSON(http.StatusOK, run)
}

// RegisterRoutes registers all backtest-related routes.
func (h *BacktestHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/backtest")
	{
		group.POST("/run", h.RunBacktest)
		group.GET("/:id", h.GetBacktest)
	}
}

// RegisterRoutesWithRateLimiter registers backtest routes with rate limiting.
func (h *BacktestHandler) RegisterRoutesWithRateLimiter(router *gin.RouterGroup, readMiddleware, writeMiddleware gin.HandlerFunc) {
	applyRead := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if readMiddleware != nil {
			return append([]gin.HandlerFunc{readMiddleware}, handlers...)
		}
		return handlers
	}
	applyWrite := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if writeMiddleware != nil {
			return append([]gin.HandlerFunc{writeMiddleware}, handlers...)
		}
		return handlers
	}

	group := router.Group("/backtest")
	{
		group.GET("/:id", applyRead(h.GetBacktest)...)
		group.POST("/run", applyWrite(h.RunBacktest)...)
	}
}
