package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/fingerprint"
	"github.com/signalpipe/signalpipe/internal/model"
)

// ErrSkipped is returned (never as an error condition the caller should
// alarm on) when a signal is intentionally not turned into an order:
// paused executor, risk-gate rejection, below-minimum notional, or a
// SELL against no open position under SELL_NO_OP policy.
var ErrSkipped = errors.New("executor: signal skipped")

// Config is one executor's static behavior, loaded from its
// ExecutorAccount plus broker wiring.
type Config struct {
	MinNotionalUSD float64 // broker-minimum order size; below this, skip rather than round to zero
}

// Executor turns delivered signals into broker orders for one
// ExecutorAccount. STANDARD and PROP_FIRM are the same Executor with
// different Config/ExecutorAccount limits and SellPolicy, exactly as
// spec.md §4.7 describes them: "behaviorally identical except for their
// configured limits."
type Executor struct {
	db        *db.DB
	executorID string
	broker    Broker
	simulator *SimulatedBroker
	gate      RiskGate
	positions *PositionTracker
	cfg       Config
	metrics   *Metrics
}

// New constructs an Executor. broker is the live venue adapter
// (BinanceBroker); simulator is always available as the fallback.
func New(database *db.DB, executorID string, broker Broker, gate RiskGate, cfg Config) *Executor {
	return &Executor{
		db:         database,
		executorID: executorID,
		broker:     broker,
		simulator:  NewSimulatedBroker(),
		gate:       gate,
		positions:  NewPositionTracker(database, executorID),
		cfg:        cfg,
		metrics:    newMetrics(),
	}
}

// Start loads open positions from Postgres; call once before Execute.
func (e *Executor) Start(ctx context.Context) error {
	return e.positions.LoadOpen(ctx)
}

// Positions exposes the tracker for the risk guard's max_positions check
// and the reconciler.
func (e *Executor) Positions() *PositionTracker { return e.positions }

// Execute runs the full per-signal pipeline: idempotence check, SELL
// policy resolution, pre-trade risk gate, sizing, broker submission with
// simulation fallback, persistence. It returns the placed Order, or
// ErrSkipped (wrapped with a reason) when no order was placed.
func (e *Executor) Execute(ctx context.Context, account model.ExecutorAccount, s model.Signal) (model.Order, error) {
	if account.Paused {
		return model.Order{}, fmt.Errorf("%w: executor paused", ErrSkipped)
	}

	// Idempotence: a redelivered signal_id must never double-trade.
	if existing, err := e.db.GetOrderByIdempotencyKey(ctx, e.executorID, s.SignalID); err == nil {
		return existing, nil
	}

	if !contains(account.SymbolAllowlist, s.Symbol.Ticker) {
		return model.Order{}, fmt.Errorf("%w: symbol not on allowlist", ErrSkipped)
	}

	side, skip, reason := e.resolveSide(account, s)
	if skip {
		e.metrics.policyRejections.WithLabelValues(e.executorID, reason).Inc()
		log.Info().Str("executor_id", e.executorID).Str("signal_id", string(s.SignalID)).Str("reason", reason).Msg("signal skipped by policy")
		return model.Order{}, fmt.Errorf("%w: %s", ErrSkipped, reason)
	}

	qty, notional := e.size(account, s)
	if notional < e.cfg.MinNotionalUSD {
		return model.Order{}, fmt.Errorf("%w: notional below broker minimum", ErrSkipped)
	}

	allowed, gateReason, err := e.gate.Allow(ctx, e.executorID, s.Symbol, side, notional)
	if err != nil {
		return model.Order{}, fmt.Errorf("executor: risk gate: %w", err)
	}
	if !allowed {
		e.metrics.riskRejections.WithLabelValues(e.executorID).Inc()
		return model.Order{}, fmt.Errorf("%w: risk gate rejected (%s)", ErrSkipped, gateReason)
	}

	order, err := e.submit(ctx, account, s, side, qty)
	if err != nil {
		return model.Order{}, err
	}

	if err := e.db.InsertOrder(ctx, order); err != nil {
		if errors.Is(err, db.ErrOrderExists) {
			return e.db.GetOrderByIdempotencyKey(ctx, e.executorID, s.SignalID)
		}
		return model.Order{}, fmt.Errorf("executor: persist order: %w", err)
	}

	if order.Status == model.OrderFilled || order.Status == model.OrderSimulated {
		if _, err := e.positions.OnFill(ctx, s.Symbol, side, qty, order.PriceReference); err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to update position after fill")
		}
	}

	if err := e.db.AppendOrderRef(ctx, s.SignalID, model.OrderRef{ExecutorID: e.executorID, OrderID: order.OrderID}); err != nil {
		log.Error().Err(err).Str("signal_id", string(s.SignalID)).Msg("failed to append order ref to signal")
	}

	e.metrics.ordersPlaced.WithLabelValues(e.executorID, string(side)).Inc()
	return order, nil
}

// resolveSide turns a signal's BUY/SELL Action into an order side,
// resolving the ambiguous "SELL with no open long position" case per the
// executor's configured SellPolicy (spec.md §9.2 Open Question).
func (e *Executor) resolveSide(account model.ExecutorAccount, s model.Signal) (model.OrderSide, bool, string) {
	if s.Action == model.ActionBuy {
		return model.OrderSideBuy, false, ""
	}

	_, hasLong := e.positions.Get(s.Symbol)
	if hasLong {
		return model.OrderSideSell, false, ""
	}

	switch account.Policy {
	case model.SellOpenShort:
		return model.OrderSideSell, false, ""
	default: // model.SellNoOp
		return "", true, "NO_OPEN_POSITION"
	}
}

// size applies max_position_pct of configured equity as the notional
// fraction, converts to units at the signal's entry price, then rounds
// down to instrument precision (spec.md §4.7 step 2) — notionalUSD is
// recomputed from the rounded qty, since that's what actually gets
// submitted and what MinNotionalUSD must gate on.
func (e *Executor) size(account model.ExecutorAccount, s model.Signal) (qty, notionalUSD float64) {
	targetNotional := account.MaxPositionPct * equityEstimate(account)
	if s.EntryPrice <= 0 {
		return 0, 0
	}
	qty = roundDownToStep(targetNotional/s.EntryPrice, instrumentStep(s.Symbol.Class))
	notionalUSD = qty * s.EntryPrice
	return qty, notionalUSD
}

// instrumentStep is the quantity granularity an order must align to.
// Neither model.Symbol nor this system's config carries a per-symbol
// exchange-reported step size, so precision is approximated per asset
// class: stocks trade in whole shares, crypto down to six decimals.
func instrumentStep(class model.SymbolClass) float64 {
	if class == model.SymbolStock {
		return 1.0
	}
	return 0.000001
}

// roundDownToStep floors qty to the nearest multiple of step at or below
// it, grounded on koshedutech-binance-trading-app's
// SymbolValidator.RoundQuantity step-size floor-division pattern
// (math.Floor(qty/step) * step).
func roundDownToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// equityEstimate is a placeholder equity base for sizing until the risk
// guard's cached AccountState snapshot is wired in; MaxPositionPct is
// always applied against it, matching spec.md §4.7 step 2.
func equityEstimate(account model.ExecutorAccount) float64 {
	const defaultEquityUSD = 100_000.0
	return defaultEquityUSD
}

// submit tries the live broker first, falling through to simulation on
// any unreadable-account or placement failure — spec.md §4.7 step 3:
// "a broker failure or an invalid account MUST NOT cause the signal to
// be lost."
func (e *Executor) submit(ctx context.Context, account model.ExecutorAccount, s model.Signal, side model.OrderSide, qty float64) (model.Order, error) {
	now := time.Now()
	orderID := fingerprint.NewSignalID(now)

	req := BrokerOrderRequest{Symbol: s.Symbol, Side: side, Qty: qty, TargetPrice: s.TargetPrice, StopPrice: s.StopPrice}

	if e.broker != nil {
		if state, err := e.broker.AccountState(ctx); err == nil && state.Readable && state.BuyingPower > 0 {
			result, err := e.broker.PlaceOrder(ctx, req)
			if err == nil {
				return model.Order{
					OrderID: string(orderID), ExecutorID: e.executorID, SignalID: s.SignalID,
					IdempotencyKey: s.SignalID, Symbol: s.Symbol, Side: side, Qty: qty,
					PriceReference: result.FillPrice, Status: model.OrderFilled, IsSimulated: false,
					SubmittedAt: now, FilledAt: &result.FilledAt,
				}, nil
			}
			log.Warn().Err(err).Str("executor_id", e.executorID).Msg("live broker placement failed, falling back to simulation")
		} else if err != nil {
			log.Warn().Err(err).Str("executor_id", e.executorID).Msg("broker account unreadable, falling back to simulation")
		}
	}

	e.simulator.SetLastPrice(s.Symbol.Ticker, s.EntryPrice)
	result, err := e.simulator.PlaceOrder(ctx, req)
	if err != nil {
		return model.Order{}, fmt.Errorf("executor: simulated placement: %w", err)
	}

	return model.Order{
		OrderID: model.SimulatedOrderPrefix + string(orderID), ExecutorID: e.executorID, SignalID: s.SignalID,
		IdempotencyKey: s.SignalID, Symbol: s.Symbol, Side: side, Qty: qty,
		PriceReference: result.FillPrice, Status: model.OrderSimulated, IsSimulated: true,
		SubmittedAt: now, FilledAt: &result.FilledAt,
	}, nil
}

func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true // empty allowlist means unrestricted
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
