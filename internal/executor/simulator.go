package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SimulatedBroker is the always-available fallback: spec.md §4.7 requires
// that a broker failure or an invalid account never lose a signal, so
// every Executor falls through to this Broker whenever its configured
// live broker reports an unreadable account. Fill model (base slippage +
// size-proportional market impact, capped) is the teacher's
// simulateMarketFill/calculateSlippage, ported from a per-order-book mock
// exchange to a per-symbol last-price source.
type SimulatedBroker struct {
	mu           sync.RWMutex
	lastPrice    map[string]float64
	baseSlippage float64
	marketImpact float64
	maxSlippage  float64
}

// NewSimulatedBroker returns a simulator using the teacher's default fee
// and slippage configuration (0.05% base, 0.01% impact, 0.3% cap).
func NewSimulatedBroker() *SimulatedBroker {
	return &SimulatedBroker{
		lastPrice:    make(map[string]float64),
		baseSlippage: 0.0005,
		marketImpact: 0.0001,
		maxSlippage:  0.003,
	}
}

// SetLastPrice records the latest observed price for a symbol, used as
// the simulator's fill midpoint; the executor feeds this from the same
// market-data source opinion the consensus engine anchors prices from.
func (s *SimulatedBroker) SetLastPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice[symbol] = price
}

// AccountState always reports a readable, bottomless account: the
// simulator is the fallback path, not a venue with real constraints.
func (s *SimulatedBroker) AccountState(ctx context.Context) (AccountState, error) {
	return AccountState{Readable: true, BuyingPower: 1e12, EquityUSD: 1e12}, nil
}

// PlaceOrder synthesizes a fill, never rejecting: simulation is the
// "no signal lost" backstop.
func (s *SimulatedBroker) PlaceOrder(ctx context.Context, req BrokerOrderRequest) (*BrokerOrderResult, error) {
	s.mu.RLock()
	mid, ok := s.lastPrice[req.Symbol.Ticker]
	s.mu.RUnlock()
	if !ok {
		mid = req.referencePrice()
	}

	slippage := s.calculateSlippage(req.Qty, mid)
	fillPrice := mid * (1 + slippage)
	if req.Side == "SELL" {
		fillPrice = mid * (1 - slippage)
	}

	now := time.Now()
	log.Info().
		Str("symbol", req.Symbol.Ticker).
		Str("side", string(req.Side)).
		Float64("qty", req.Qty).
		Float64("fill_price", fillPrice).
		Float64("slippage_pct", slippage*100).
		Msg("simulated order filled")

	return &BrokerOrderResult{FillPrice: fillPrice, FilledAt: now}, nil
}

func (s *SimulatedBroker) calculateSlippage(qty, price float64) float64 {
	orderSize := qty * price
	normalizedSize := orderSize / 1_000_000.0
	total := s.baseSlippage + s.marketImpact*normalizedSize
	if total > s.maxSlippage {
		total = s.maxSlippage
	}
	return total
}

// referencePrice is the fallback midpoint when no SetLastPrice has ever
// been recorded for the symbol; it keeps PlaceOrder total, never a
// divide-by-zero, for a cold-start simulator.
func (r BrokerOrderRequest) referencePrice() float64 {
	if r.TargetPrice != nil {
		return *r.TargetPrice
	}
	return 1.0
}
