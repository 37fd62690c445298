package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/alerts"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
)

// AccountReader reports an executor's live broker equity and whether its
// account state was readable this call — the thing that makes a
// "strict" prop-firm policy reject on broker outage. It is satisfied by
// a thin adapter over executor.Broker; risk does not import executor to
// avoid a package cycle, since executor.RiskGate is in turn satisfied by
// Guard by method signature alone.
type AccountReader interface {
	AccountState(ctx context.Context) (equityUSD float64, readable bool, err error)
}

// cachedSnapshot is the synchronous path's input: the monitor's most
// recent periodic read, valid until it goes stale (spec.md §4.8 "the
// synchronous path uses the most recently cached account snapshot
// (fresher than a configured TTL)").
type cachedSnapshot struct {
	snap      Snapshot
	refreshed time.Time
}

// Guard is the shared pre-trade gate and periodic monitor for every
// ExecutorAccount. Grounded on internal/risk/service.go's
// CheckPortfolioLimits (violation-list shape, moved into Evaluate) and
// circuit_breaker.go (kept as-is, already wired through internal/db for
// broker/DB-call resilience).
type Guard struct {
	db         *db.DB
	calculator *Calculator
	snapshotTTL time.Duration
	alerter    *alerts.Manager

	mu        sync.RWMutex
	cache     map[string]cachedSnapshot // executor_id -> snapshot
	readers   map[string]AccountReader
}

// NewGuard builds a Guard. snapshotTTL bounds how old a periodic
// snapshot may be before the synchronous path refuses to trust it. It
// alerts through alerts.GetDefaultManager() (log+console) until
// SetAlerter wires a richer channel such as Telegram.
func NewGuard(database *db.DB, snapshotTTL time.Duration) *Guard {
	return &Guard{
		db:          database,
		calculator:  NewCalculator(database),
		snapshotTTL: snapshotTTL,
		alerter:     alerts.GetDefaultManager(),
		cache:       make(map[string]cachedSnapshot),
		readers:     make(map[string]AccountReader),
	}
}

// SetAlerter replaces the Guard's alert channel, e.g. with a Manager
// that also fans out to Telegram.
func (g *Guard) SetAlerter(manager *alerts.Manager) {
	g.alerter = manager
}

// RegisterAccountReader wires the broker-equity source for executorID;
// called once per executor at process startup.
func (g *Guard) RegisterAccountReader(executorID string, reader AccountReader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readers[executorID] = reader
}

// CachedSnapshot returns the most recently monitored Snapshot for
// executorID and whether one has ever been taken — the same cache Allow
// reads for its synchronous gate, exposed read-only for callers (e.g. the
// API's trading-status handler) that just want to report current
// daily-loss/drawdown figures rather than gate a trade on them.
func (g *Guard) CachedSnapshot(executorID string) (Snapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cached, ok := g.cache[executorID]
	if !ok {
		return Snapshot{}, false
	}
	return cached.snap, true
}

// Allow is the synchronous pre-trade gate, satisfying executor.RiskGate.
// It trusts the most recent cached snapshot if fresh enough, and refuses
// the trade outright if none has ever been taken.
func (g *Guard) Allow(ctx context.Context, executorID string, symbol model.Symbol, side model.OrderSide, notionalUSD float64) (bool, string, error) {
	account, err := g.db.GetExecutorAccount(ctx, executorID)
	if err != nil {
		return false, "", err
	}
	if account.Paused {
		return false, "executor paused", nil
	}

	g.mu.RLock()
	cached, ok := g.cache[executorID]
	g.mu.RUnlock()

	if !ok || time.Since(cached.refreshed) > g.snapshotTTL {
		return false, "no fresh account snapshot available", nil
	}

	verdict := Evaluate(account, cached.snap, notionalUSD)
	if !verdict.Allowed {
		return false, verdict.Violations[0], nil
	}
	return true, "", nil
}

// Monitor runs the periodic post-trade path at interval until ctx is
// cancelled, refreshing every registered executor's snapshot and pausing
// any that have crossed a hard limit. PROP_FIRM drawdown breaches latch:
// once paused for drawdown, Monitor never auto-clears it — spec.md §4.8
// "paused=true is latched until operator clears it."
func (g *Guard) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.monitorOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Guard) monitorOnce(ctx context.Context) {
	g.mu.RLock()
	executorIDs := make([]string, 0, len(g.readers))
	for id := range g.readers {
		executorIDs = append(executorIDs, id)
	}
	g.mu.RUnlock()

	for _, executorID := range executorIDs {
		if err := g.refreshOne(ctx, executorID); err != nil {
			log.Error().Err(err).Str("executor_id", executorID).Msg("risk guard: refresh failed")
		}
	}
}

func (g *Guard) refreshOne(ctx context.Context, executorID string) error {
	account, err := g.db.GetExecutorAccount(ctx, executorID)
	if err != nil {
		return err
	}

	g.mu.RLock()
	reader := g.readers[executorID]
	g.mu.RUnlock()

	equityUSD, readable, err := reader.AccountState(ctx)
	if err != nil || !readable {
		equityUSD = 0
	}

	openPositions, err := g.db.ListOpenPositions(ctx, executorID)
	if err != nil {
		return err
	}

	perf, err := g.calculator.LoadRealizedPnL(ctx, executorID, startEquityFor(account), 500)
	if err != nil {
		return err
	}
	_, maxDD, _ := g.calculator.CalculateDrawdown(perf.EquityCurve)

	snap := Snapshot{
		OpenPositions:    len(openPositions),
		EquityUSD:        equityUSD,
		DailyRealizedLoss: dailyLoss(perf.Returns),
		CurrentDrawdown:  maxDD,
		BrokerUnreadable: !readable,
	}

	g.mu.Lock()
	g.cache[executorID] = cachedSnapshot{snap: snap, refreshed: time.Now()}
	g.mu.Unlock()

	// Already latched: PROP_FIRM drawdown pause never auto-clears here.
	if account.Paused && account.Kind == model.ExecutorPropFirm {
		return nil
	}

	verdict := Evaluate(account, snap, 0)
	if !verdict.Allowed {
		if err := g.db.SetPaused(ctx, executorID, true); err != nil {
			return err
		}
		log.Warn().Str("executor_id", executorID).Strs("violations", verdict.Violations).Msg("risk guard: pausing executor")
		g.alerter.SendCritical(ctx, "Executor Paused", "risk limit breached, trading halted", map[string]interface{}{
			"executor_id": executorID,
			"violations":  verdict.Violations,
		})
		return nil
	}

	for _, w := range NearLimit(account, snap) {
		log.Warn().Str("executor_id", executorID).Str("warning", w).Msg("risk guard: approaching limit")
		g.alerter.SendWarning(ctx, "Executor Approaching Limit", w, map[string]interface{}{
			"executor_id": executorID,
		})
	}

	return nil
}

// startEquityFor is the baseline equity the reconstructed PnL curve
// compounds from; using a fixed value keeps the curve comparable across
// executors until real starting-equity configuration is wired in.
func startEquityFor(account model.ExecutorAccount) float64 {
	const defaultStartEquityUSD = 100_000.0
	return defaultStartEquityUSD
}

// dailyLoss sums only today's negative returns into a positive loss
// fraction; a simplification of a proper trading-day boundary, adequate
// until LoadRealizedPnL carries timestamps.
func dailyLoss(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var loss float64
	const lookback = 20 // most recent returns treated as "today's session" window
	start := 0
	if len(returns) > lookback {
		start = len(returns) - lookback
	}
	for _, r := range returns[start:] {
		if r < 0 {
			loss += -r
		}
	}
	return loss
}
