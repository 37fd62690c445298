package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
)

// PositionTracker holds one executor's open positions in memory,
// authoritative between fills, and keeps them durable in Postgres.
// Grounded on the teacher's PositionManager (open/close/partial-close/
// average-in, fee-adjusted P&L) — generalized from a single
// session-scoped map to one map per ExecutorAccount, and from
// uuid-keyed positions to the (symbol, executor_id) keying
// internal/db.positions.go uses.
type PositionTracker struct {
	db         *db.DB
	executorID string

	mu   sync.RWMutex
	open map[string]model.Position // symbol ticker -> position
}

// NewPositionTracker constructs a tracker for one executor.
func NewPositionTracker(database *db.DB, executorID string) *PositionTracker {
	return &PositionTracker{
		db:         database,
		executorID: executorID,
		open:       make(map[string]model.Position),
	}
}

// LoadOpen populates the in-memory map from Postgres, called once at
// executor startup so a restart doesn't forget open exposure.
func (t *PositionTracker) LoadOpen(ctx context.Context) error {
	positions, err := t.db.ListOpenPositions(ctx, t.executorID)
	if err != nil {
		return fmt.Errorf("executor: load open positions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		t.open[p.Symbol.Ticker] = p
	}
	log.Info().Str("executor_id", t.executorID).Int("count", len(positions)).Msg("loaded open positions")
	return nil
}

// Get returns the open position in symbol, if any.
func (t *PositionTracker) Get(symbol model.Symbol) (model.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.open[symbol.Ticker]
	return p, ok
}

// All returns every open position, for the risk guard's max_positions
// check and the reconciler's close-watch loop.
func (t *PositionTracker) All() []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(t.open))
	for _, p := range t.open {
		out = append(out, p)
	}
	return out
}

// OnFill applies a fill to the tracked position for symbol, opening,
// averaging into, reducing, or flipping it as appropriate, and persists
// the result. side is the order's BUY/SELL verb, not the resulting
// PositionSide.
func (t *PositionTracker) OnFill(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, fillPrice float64) (model.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, hasPosition := t.open[symbol.Ticker]
	now := time.Now()

	wantSide := model.PositionLong
	if side == model.OrderSideSell {
		wantSide = model.PositionShort
	}

	if !hasPosition {
		p := model.Position{
			Symbol: symbol, ExecutorID: t.executorID, Side: wantSide,
			Qty: qty, AvgCost: fillPrice, OpenedAt: now,
		}
		if err := t.db.UpsertPosition(ctx, p); err != nil {
			return model.Position{}, err
		}
		t.open[symbol.Ticker] = p
		log.Info().Str("symbol", symbol.Ticker).Str("side", string(wantSide)).Float64("qty", qty).Msg("position opened")
		return p, nil
	}

	if existing.Side == wantSide {
		// Averaging into the same side.
		totalQty := existing.Qty + qty
		existing.AvgCost = (existing.AvgCost*existing.Qty + fillPrice*qty) / totalQty
		existing.Qty = totalQty
		if err := t.db.UpsertPosition(ctx, existing); err != nil {
			return model.Position{}, err
		}
		t.open[symbol.Ticker] = existing
		return existing, nil
	}

	// Opposing fill: reduces, closes, or flips the existing position.
	switch {
	case qty < existing.Qty:
		existing.Qty -= qty
		if err := t.db.UpsertPosition(ctx, existing); err != nil {
			return model.Position{}, err
		}
		t.open[symbol.Ticker] = existing
		return existing, nil
	case qty == existing.Qty:
		if err := t.db.ClosePosition(ctx, symbol, t.executorID); err != nil {
			return model.Position{}, err
		}
		delete(t.open, symbol.Ticker)
		return model.Position{}, nil
	default:
		// Flips to the opposite side with the remainder.
		if err := t.db.ClosePosition(ctx, symbol, t.executorID); err != nil {
			return model.Position{}, err
		}
		remaining := qty - existing.Qty
		flipped := model.Position{
			Symbol: symbol, ExecutorID: t.executorID, Side: wantSide,
			Qty: remaining, AvgCost: fillPrice, OpenedAt: now,
		}
		if err := t.db.UpsertPosition(ctx, flipped); err != nil {
			return model.Position{}, err
		}
		t.open[symbol.Ticker] = flipped
		return flipped, nil
	}
}

// Close removes symbol from the in-memory map, used by the reconciler
// once it has observed a position close out on the broker side.
func (t *PositionTracker) Close(symbol model.Symbol) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, symbol.Ticker)
}
