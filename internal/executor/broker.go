// Package executor implements the two executor identities (STANDARD and
// PROP_FIRM) that turn a stored Signal into a broker order: pre-trade risk
// gate, position sizing, broker submission with simulation fallback,
// persistence, and a background outcome reconciler.
package executor

import (
	"context"
	"time"

	"github.com/signalpipe/signalpipe/internal/model"
)

// BrokerOrderRequest is what an Executor asks a Broker to place, already
// sized and directioned.
type BrokerOrderRequest struct {
	Symbol      model.Symbol
	Side        model.OrderSide
	Qty         float64
	TargetPrice *float64
	StopPrice   *float64
}

// BrokerOrderResult is a Broker's response to a placed order.
type BrokerOrderResult struct {
	BrokerOrderID string
	FillPrice     float64
	FilledAt      time.Time
}

// AccountState is the broker-side snapshot an executor reads to decide
// whether live submission is viable at all; an unreadable account state
// is what routes an order to the simulation fallback.
type AccountState struct {
	Readable      bool
	BuyingPower   float64
	EquityUSD     float64
}

// Broker places orders against one external venue. BinanceBroker and
// SimulatedBroker are the two implementations; an Executor is configured
// with exactly one, falling back to SimulatedBroker internally whenever
// the configured Broker's account state comes back unreadable.
type Broker interface {
	AccountState(ctx context.Context) (AccountState, error)
	PlaceOrder(ctx context.Context, req BrokerOrderRequest) (*BrokerOrderResult, error)
}

// RiskGate is the pre-trade synchronous check an Executor calls before
// sizing and submission (spec.md §4.8). Implemented by internal/risk.Guard.
type RiskGate interface {
	Allow(ctx context.Context, executorID string, symbol model.Symbol, side model.OrderSide, notionalUSD float64) (bool, string, error)
}
