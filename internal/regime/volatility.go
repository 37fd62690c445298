package regime

import (
	"time"

	"github.com/signalpipe/signalpipe/internal/model"
)

// History supplies a symbol's recent closing-price window; satisfied by
// adapters.PriceHistory without this package importing it directly.
type History interface {
	Snapshot(symbol model.Symbol) []float64
}

// Estimator implements consensus.VolatilityEstimator from the same
// rolling close window the Detector classifies regime from, so the
// consensus engine's target/stop sizing and the regime classification
// always agree on "how volatile is this symbol right now."
type Estimator struct {
	history History
	minBars int
}

// NewEstimator builds an Estimator. minBars should match (or exceed) the
// Detector's LongWindow — fewer bars than that make stdDevOfReturns too
// noisy to size a stop against.
func NewEstimator(history History, minBars int) *Estimator {
	return &Estimator{history: history, minBars: minBars}
}

// Estimate returns the realized volatility (stdev of simple returns) over
// symbol's current rolling window, as a fraction of price.
func (e *Estimator) Estimate(symbol model.Symbol, now time.Time) (float64, bool) {
	closes := e.history.Snapshot(symbol)
	if len(closes) < e.minBars {
		return 0, false
	}
	return stdDevOfReturns(closes), true
}
