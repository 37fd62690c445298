package adapters

import (
	"sync"

	"github.com/signalpipe/signalpipe/internal/model"
)

// PriceHistory is a small in-memory ring buffer of recent closing prices
// per symbol, fed by MarketDataAdapter and read by TechnicalAdapter —
// generalized from the teacher's per-cycle Candlestick slice into a
// shared rolling window so the technical adapter never needs its own
// vendor call.
type PriceHistory struct {
	mu       sync.RWMutex
	capacity int
	closes   map[string][]float64
}

func NewPriceHistory(capacity int) *PriceHistory {
	return &PriceHistory{
		capacity: capacity,
		closes:   make(map[string][]float64),
	}
}

// Push appends symbol's latest close, evicting the oldest once capacity
// is exceeded. Exported so the generation scheduler's regime detector can
// read the same window a MarketDataAdapter feeds.
func (h *PriceHistory) Push(symbol model.Symbol, price float64) {
	h.push(symbol, price)
}

func (h *PriceHistory) push(symbol model.Symbol, price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := symbol.String()
	series := append(h.closes[key], price)
	if len(series) > h.capacity {
		series = series[len(series)-h.capacity:]
	}
	h.closes[key] = series
}

// Snapshot returns a defensive copy of symbol's recent closes, oldest first.
func (h *PriceHistory) Snapshot(symbol model.Symbol) []float64 {
	return h.snapshot(symbol)
}

func (h *PriceHistory) snapshot(symbol model.Symbol) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.closes[symbol.String()]
	out := make([]float64, len(series))
	copy(out, series)
	return out
}
