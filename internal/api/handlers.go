package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/config"
	"github.com/signalpipe/signalpipe/internal/executor"
	"github.com/signalpipe/signalpipe/internal/fingerprint"
	"github.com/signalpipe/signalpipe/internal/model"
)

// signalResponse is the wire shape of a Signal, spec.md §6: the full
// fields of §3's Signal plus a server-verified fingerprint flag.
type signalResponse struct {
	SignalID             string                      `json:"signal_id"`
	Symbol               string                      `json:"symbol"`
	SymbolClass          model.SymbolClass           `json:"symbol_class"`
	Action               model.Action                `json:"action"`
	Confidence           float64                     `json:"confidence"`
	EntryPrice           float64                     `json:"entry_price"`
	TargetPrice          *float64                    `json:"target_price,omitempty"`
	StopPrice            *float64                    `json:"stop_price,omitempty"`
	Regime               model.RegimeState           `json:"regime"`
	StrategyVersion      string                      `json:"strategy_version"`
	GeneratedAt          time.Time                   `json:"generated_at"`
	ContributingSources  []model.ContributingSource  `json:"contributing_sources"`
	Fingerprint          string                      `json:"fingerprint"`
	CalibratedIsIdentity bool                        `json:"calibrated_is_identity"`
	Outcome              *model.Outcome              `json:"outcome,omitempty"`
	PnLPct               *float64                    `json:"pnl_pct,omitempty"`
	OrderRefs            []model.OrderRef            `json:"order_refs,omitempty"`
	Verified             bool                        `json:"verified"`
}

func toSignalResponse(s model.Signal) signalResponse {
	return signalResponse{
		SignalID:             string(s.SignalID),
		Symbol:               s.Symbol.Ticker,
		SymbolClass:          s.Symbol.Class,
		Action:               s.Action,
		Confidence:           s.Confidence,
		EntryPrice:           s.EntryPrice,
		TargetPrice:          s.TargetPrice,
		StopPrice:            s.StopPrice,
		Regime:               s.Regime,
		StrategyVersion:      s.StrategyVersion,
		GeneratedAt:          s.GeneratedAt,
		ContributingSources:  s.ContributingSources,
		Fingerprint:          s.Fingerprint,
		CalibratedIsIdentity: s.CalibratedIsIdentity,
		Outcome:              s.Outcome,
		PnLPct:               s.PnLPct,
		OrderRefs:            s.OrderRefs,
		Verified:             fingerprint.Verify(s),
	}
}

// HealthHandler answers GET /health: liveness only, never touching a
// dependency — spec.md §4.10 "liveness never checks dependencies".
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "alive",
		"version": s.version,
	})
}

// ReadinessHandler answers GET /health/readiness: 200 only if the signal
// store is writable and at least one broker account is reachable, or
// simulation fallback covers the gap — every Executor always carries a
// simulator, so the only hard failure here is the database itself.
func (s *Server) ReadinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "signal store unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "ready",
		"executors_wired":     len(s.executors),
		"simulation_fallback": true,
	})
}

// premiumConfidenceThreshold is the dividing line premium_only filters
// on: a signal at or above this calibrated confidence is "premium" grade,
// the same bar of conviction an executor's own MinConfidence admission
// filter (internal/distributor's admits) applies for a standard executor
// configured at 0.75. Executors configured with a higher MinConfidence
// admit only part of the premium set.
const premiumConfidenceThreshold = 0.75

// ListLatestSignals answers GET /api/signals/latest?limit=N&premium_only=bool.
// premium_only filters the returned page down to confidence >=
// premiumConfidenceThreshold; since the underlying store call only takes
// a row limit, the filter is applied to the already-limited newest-N
// signals rather than pushed into the query, so a premium_only request
// can return fewer than limit results.
func (s *Server) ListLatestSignals(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	premiumOnly, _ := strconv.ParseBool(c.Query("premium_only"))

	signals, err := s.db.ListLatestSignals(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("api: ListLatestSignals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signals"})
		return
	}

	resp := make([]signalResponse, 0, len(signals))
	for _, sig := range signals {
		if premiumOnly && sig.Confidence < premiumConfidenceThreshold {
			continue
		}
		resp = append(resp, toSignalResponse(sig))
	}
	c.JSON(http.StatusOK, gin.H{"signals": resp, "count": len(resp)})
}

// GetSignalByID answers GET /api/signals/:signal_id.
func (s *Server) GetSignalByID(c *gin.Context) {
	id := model.SignalID(c.Param("signal_id"))

	sig, err := s.db.GetSignal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found", "signal_id": string(id)})
		return
	}

	c.JSON(http.StatusOK, toSignalResponse(sig))
}

// SignalStatsHandler answers GET /api/signals/stats.
func (s *Server) SignalStatsHandler(c *gin.Context) {
	stats, err := s.db.SignalStats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: SignalStats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute signal stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":          stats.Total,
		"by_action":      stats.ByAction,
		"by_outcome":     stats.ByOutcome,
		"avg_confidence": stats.AvgConfidence,
	})
}

// executeTradingRequest is the POST /api/v1/trading/execute body: the
// signal must already be in the store (the common path — the generator
// wrote it moments ago), addressed by signal_id plus the executor that
// should attempt it.
type executeTradingRequest struct {
	ExecutorID string `json:"executor_id" binding:"required"`
	SignalID   string `json:"signal_id" binding:"required"`
}

// ExecuteTrading answers POST /api/v1/trading/execute. It always
// returns a decision — live order, simulated order, or a typed
// rejection — never a silent failure, per spec.md §7.
func (s *Server) ExecuteTrading(c *gin.Context) {
	var req executeTradingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	ex, ok := s.executors[req.ExecutorID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown executor_id", "executor_id": req.ExecutorID})
		return
	}

	sig, err := s.db.GetSignal(c.Request.Context(), model.SignalID(req.SignalID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found", "signal_id": req.SignalID})
		return
	}

	account, err := s.db.GetExecutorAccount(c.Request.Context(), req.ExecutorID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown executor account", "executor_id": req.ExecutorID})
		return
	}

	order, err := ex.Execute(c.Request.Context(), account, sig)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"order_id":    order.OrderID,
			"executor_id": req.ExecutorID,
			"status":      order.Status,
		})
	case isSkipped(err):
		c.JSON(http.StatusOK, gin.H{
			"success":     false,
			"executor_id": req.ExecutorID,
			"reason":      err.Error(),
		})
	default:
		log.Error().Err(err).Str("executor_id", req.ExecutorID).Str("signal_id", req.SignalID).Msg("api: trading execute failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":     false,
			"executor_id": req.ExecutorID,
			"error":       "execution failed",
		})
	}
}

// isSkipped reports whether err wraps executor.ErrSkipped — a policy
// rejection, never an error surfaced to clients per spec.md §7.
func isSkipped(err error) bool {
	for err != nil {
		if err == executor.ErrSkipped {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// executorStatus is the per-executor view served by both
// /api/v1/trading/status (public) and /api/v1/execution/account-states
// (admin, full snapshot). DailyPnLPct and DrawdownPct come from the
// Guard's own cached risk Snapshot (the same one Allow gates trades
// against), not a separate recomputation.
type executorStatus struct {
	ExecutorID    string  `json:"executor_id"`
	Paused        bool    `json:"paused"`
	OpenPositions int     `json:"open_positions"`
	DailyPnLPct   float64 `json:"daily_pnl_pct"`
	DrawdownPct   float64 `json:"drawdown_pct"`
}

// TradingStatus answers GET /api/v1/trading/status: per-executor view.
func (s *Server) TradingStatus(c *gin.Context) {
	accounts, err := s.db.ListExecutorAccounts(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: ListExecutorAccounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load executor accounts"})
		return
	}

	statuses := make([]executorStatus, 0, len(accounts))
	for _, account := range accounts {
		openPositions := 0
		if positions, err := s.db.ListOpenPositions(c.Request.Context(), account.ExecutorID); err == nil {
			openPositions = len(positions)
		}

		status := executorStatus{
			ExecutorID:    account.ExecutorID,
			Paused:        account.Paused,
			OpenPositions: openPositions,
		}
		if s.guard != nil {
			if snap, ok := s.guard.CachedSnapshot(account.ExecutorID); ok {
				status.DailyPnLPct = -snap.DailyRealizedLoss * 100
				status.DrawdownPct = snap.CurrentDrawdown * 100
			}
		}
		statuses = append(statuses, status)
	}

	c.JSON(http.StatusOK, gin.H{"executors": statuses})
}

// AccountStates answers GET /api/v1/execution/account-states, the
// admin-only full snapshot spec.md §6 reserves behind an admin claim.
func (s *Server) AccountStates(c *gin.Context) {
	accounts, err := s.db.ListExecutorAccounts(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: ListExecutorAccounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load executor accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":        accounts,
		"service_version": s.version,
		"metrics_port":    config.GetServiceMetricsPort("api"),
	})
}
