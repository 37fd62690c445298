// Package regime implements the Regime Detector: a per-symbol state
// machine over {BULL, BEAR, CHOP, CRISIS}, recomputed at most once per
// minute from a rolling window of closes.
//
// Classification combines a short/long moving-average trend reading with
// realized volatility and drawdown, mapped onto the four fixed states,
// with flap-prevention across consecutive Update calls.
package regime

import (
	"math"
	"time"

	"github.com/cinar/indicator/v2/trend"
	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/model"
)

// Config holds the detector's thresholds. DefaultConfig uses 10/20-bar
// MAs, a 2% MA-trend threshold, a 5% volatility and a 10% drawdown
// threshold, and 3 qualifying bars.
type Config struct {
	ShortWindow int
	LongWindow  int

	// BullBearMATrendThreshold is the |shortMA-longMA|/longMA fraction
	// above which a sustained trend is recognized.
	BullBearMATrendThreshold float64

	// CrisisVolatilityThreshold is the realized-volatility (stdev of
	// returns) level above which CRISIS overrides any trend reading.
	CrisisVolatilityThreshold float64

	// CrisisDrawdownThreshold is the peak-to-trough drawdown fraction
	// within the window above which CRISIS overrides any trend reading.
	CrisisDrawdownThreshold float64

	// MinQualifyingBars is the number of consecutive cycles a new
	// classification must hold before Detector.Update actually
	// transitions state, preventing single-bar flapping.
	MinQualifyingBars int
}

// DefaultConfig returns the teacher-derived thresholds.
func DefaultConfig() Config {
	return Config{
		ShortWindow:               10,
		LongWindow:                20,
		BullBearMATrendThreshold:  0.02,
		CrisisVolatilityThreshold: 0.05,
		CrisisDrawdownThreshold:   0.10,
		MinQualifyingBars:         3,
	}
}

// Detector tracks one symbol's regime across cycles. It is not safe for
// concurrent use by multiple goroutines for the same symbol — callers
// serialize per-symbol access the same way internal/generation
// serializes adapter cycles.
type Detector struct {
	cfg Config
	log zerolog.Logger

	current      model.Regime
	candidate    model.RegimeState
	candidateRun int
}

// New constructs a Detector cold-started at CHOP, per spec §4.3 "Initial
// state on cold start is CHOP."
func New(symbol model.Symbol, cfg Config, log zerolog.Logger) *Detector {
	return &Detector{
		cfg: cfg,
		log: log.With().Str("component", "regime").Str("symbol", symbol.Ticker).Logger(),
		current: model.Regime{
			Symbol: symbol,
			State:  model.RegimeChop,
		},
	}
}

// Current returns the detector's last-committed classification. Safe to
// call from other goroutines as long as Update is not called
// concurrently with it.
func (d *Detector) Current() model.Regime {
	return d.current
}

// Update recomputes the classification from closes (oldest first) and,
// if the new reading has held for MinQualifyingBars consecutive calls,
// commits the transition. now becomes the new Regime's ClassifiedAt only
// on a committed transition; an unqualified candidate still returns the
// prior committed Regime.
func (d *Detector) Update(closes []float64, now time.Time) model.Regime {
	if len(closes) < d.cfg.LongWindow {
		d.log.Debug().Int("bars", len(closes)).Msg("insufficient history, holding current regime")
		return d.current
	}

	reading, strength := classify(closes, d.cfg)

	if reading == d.candidate {
		d.candidateRun++
	} else {
		d.candidate = reading
		d.candidateRun = 1
	}

	// CRISIS always overrides and commits immediately — spec gives it no
	// flap-prevention grace period since it exists precisely to react fast
	// to a volatility or drawdown spike.
	if reading == model.RegimeCrisis {
		d.commit(reading, strength, now)
		return d.current
	}

	if d.candidateRun >= d.cfg.MinQualifyingBars && reading != d.current.State {
		d.commit(reading, strength, now)
	} else if reading == d.current.State {
		d.current.Strength = strength
	}

	return d.current
}

func (d *Detector) commit(state model.RegimeState, strength float64, now time.Time) {
	d.current = model.Regime{
		Symbol:         d.current.Symbol,
		State:          state,
		Strength:       strength,
		ClassifiedAt:   now,
		ConsecutiveBar: d.candidateRun,
	}
	d.log.Info().Str("state", string(state)).Float64("strength", strength).Msg("regime transition")
}

// classify applies the teacher's MA-trend + volatility classification,
// generalized to the four-state machine.
func classify(closes []float64, cfg Config) (model.RegimeState, float64) {
	shortMA := movingAverage(closes, cfg.ShortWindow)
	longMA := movingAverage(closes, cfg.LongWindow)
	vol := stdDevOfReturns(closes)
	maxDD := maxDrawdown(closes)

	current := closes[len(closes)-1]
	start := closes[0]

	priceTrend := 0.0
	if start > 0 {
		priceTrend = (current - start) / start
	}
	maTrend := 0.0
	if longMA > 0 {
		maTrend = (shortMA - longMA) / longMA
	}
	trendStrength := clamp01((priceTrend + maTrend) / 2.0)

	if vol > cfg.CrisisVolatilityThreshold || maxDD > cfg.CrisisDrawdownThreshold {
		return model.RegimeCrisis, clamp01(vol / cfg.CrisisVolatilityThreshold)
	}

	switch {
	case maTrend > cfg.BullBearMATrendThreshold && priceTrend > 0:
		return model.RegimeBull, trendStrength
	case maTrend < -cfg.BullBearMATrendThreshold && priceTrend < 0:
		return model.RegimeBear, trendStrength
	default:
		return model.RegimeChop, 1 - trendStrength
	}
}

// movingAverage uses cinar/indicator/v2's channel-based Sma the same way
// internal/indicators wraps trend.NewEmaWithPeriod — fed the trailing
// `period` closes and drained to its final value.
func movingAverage(closes []float64, period int) float64 {
	if period > len(closes) {
		period = len(closes)
	}
	window := closes[len(closes)-period:]

	in := make(chan float64, len(window))
	for _, c := range window {
		in <- c
	}
	close(in)

	sma := trend.NewSmaWithPeriod[float64](period)
	out := sma.Compute(in)

	var last float64
	for v := range out {
		last = v
	}
	return last
}

func stdDevOfReturns(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(returns)))
}

func maxDrawdown(closes []float64) float64 {
	peak := closes[0]
	maxDD := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			dd := (peak - c) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
