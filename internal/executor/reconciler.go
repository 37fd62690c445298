package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
)

// Reconciler watches one executor's open positions and, once a broker
// fill has closed one out, computes pnl_pct and calls update_outcome on
// every signal that contributed an order to it (spec.md §4.7 step 5).
// Ticker/stopChan shape is the teacher's HeartbeatPublisher run loop,
// generalized from a fixed publish() to a close-detecting poll.
type Reconciler struct {
	db        *db.DB
	executor  *Executor
	interval  time.Duration
	lastPrice func(symbol string) (float64, bool)

	stopChan chan struct{}
}

// NewReconciler builds a reconciler polling at interval (spec.md §4.8
// example cadence is 5s for the risk guard; the reconciler runs on its
// own, typically slower, cadence since a position close is rarer than a
// risk check).
func NewReconciler(database *db.DB, ex *Executor, interval time.Duration, lastPrice func(symbol string) (float64, bool)) *Reconciler {
	return &Reconciler{
		db: database, executor: ex, interval: interval, lastPrice: lastPrice,
		stopChan: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcileOnce(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the reconcile loop.
func (r *Reconciler) Stop() { close(r.stopChan) }

// reconcileOnce checks every order this executor placed that hasn't yet
// resolved its signal's outcome, and closes out the ones whose position
// the tracker no longer reports open.
func (r *Reconciler) reconcileOnce(ctx context.Context) {
	orders, err := r.db.ListOrdersForExecutor(ctx, r.executor.executorID, []model.OrderStatus{model.OrderFilled, model.OrderSimulated}, 500)
	if err != nil {
		log.Error().Err(err).Str("executor_id", r.executor.executorID).Msg("reconciler: list orders failed")
		metrics.reconcileErrors.WithLabelValues(r.executor.executorID).Inc()
		return
	}

	for _, o := range orders {
		if _, stillOpen := r.executor.positions.Get(o.Symbol); stillOpen {
			continue
		}

		sig, err := r.db.GetSignal(ctx, o.SignalID)
		if err != nil {
			log.Error().Err(err).Str("signal_id", string(o.SignalID)).Msg("reconciler: load signal failed")
			continue
		}
		if sig.Outcome != nil {
			continue // already resolved
		}

		price, ok := r.lastPrice(o.Symbol.Ticker)
		if !ok {
			continue
		}

		pnlPct := pnlPercent(o.Side, o.PriceReference, price)
		outcome := model.OutcomeLoss
		if pnlPct > 0 {
			outcome = model.OutcomeWin
		}

		if err := r.db.UpdateOutcome(ctx, o.SignalID, outcome, &pnlPct, nil); err != nil {
			log.Error().Err(err).Str("signal_id", string(o.SignalID)).Msg("reconciler: update outcome failed")
			metrics.reconcileErrors.WithLabelValues(r.executor.executorID).Inc()
			continue
		}

		log.Info().Str("signal_id", string(o.SignalID)).Str("outcome", string(outcome)).Float64("pnl_pct", pnlPct).Msg("signal outcome resolved")
	}
}

func pnlPercent(side model.OrderSide, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == model.OrderSideBuy {
		return (exit - entry) / entry * 100
	}
	return (entry - exit) / entry * 100
}
