// Package consensus implements the Weighted Consensus Engine: it turns a
// set of per-source opinions into a single directional Signal with a
// calibrated confidence, or decides that no signal should be emitted.
//
// The scoring shape is a direct descendant of
// internal/orchestrator.Orchestrator.calculateDecision's weighted-voting
// loop (score[action] += weight * confidence, winner by argmax, HOLD on
// insufficient consensus/confidence); the iterative Delphi/Contract-Net
// negotiation that used to surround it is gone — this is pure arithmetic
// over one cycle's opinions.
package consensus

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/model"
)

// MarketDataSourceID is the well-known source_id of the primary
// market-data adapter, used for entry-price anchoring. The 0.60/+0.05
// market-data tie-break is applied inside that adapter, not here.
const MarketDataSourceID = "market_data"

// TechnicalSourceID is the well-known source_id of the technical
// adapter. The engine does not reference it; the 0.55/+0.08 technical
// tie-break is applied inside that adapter.
const TechnicalSourceID = "technical"

// Calibrator maps a raw consensus score into a calibrated confidence.
// internal/calibration.Calibrator satisfies this; the engine depends
// only on the method, so it can hot-swap calibrator instances without
// the engine knowing.
type Calibrator interface {
	Calibrate(raw float64) (calibrated float64, isIdentity bool)
}

// VolatilityEstimator supplies the realized-volatility estimate target
// and stop prices are derived from; internal/regime owns the actual
// computation.
type VolatilityEstimator interface {
	Estimate(symbol model.Symbol, now time.Time) (pctOfPrice float64, ok bool)
}

// Config holds the per-track (stock vs crypto) base weight table and the
// engine's fixed thresholds. Weight tables are loaded by internal/config
// from configs/config.yaml and validated there.
type Config struct {
	StockWeights  map[string]float64
	CryptoWeights map[string]float64

	// TargetMultiple and StopMultiple scale the volatility estimate into
	// target_price/stop_price offsets from entry_price; StopMultiple is
	// reduced automatically in CRISIS (see deriveTargetAndStop).
	TargetMultiple float64
	StopMultiple   float64

	StrategyVersion string
}

// Engine is the Weighted Consensus Engine. It holds no mutable state of
// its own beyond its Calibrator/VolatilityEstimator dependencies, both
// of which are safe for concurrent use — Build may be called
// concurrently for different symbols.
type Engine struct {
	cfg        Config
	calibrator Calibrator
	vol        VolatilityEstimator
	log        zerolog.Logger
	metrics    *Metrics
}

// New constructs an Engine. calibrator and vol may be swapped out from
// under the Engine by their owners (calibration hot-swap, regime
// recomputation) — Engine always reads through the interface.
func New(cfg Config, calibrator Calibrator, vol VolatilityEstimator, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		calibrator: calibrator,
		vol:        vol,
		log:        log.With().Str("component", "consensus").Logger(),
		metrics:    newMetrics(),
	}
}

// Result is the outcome of one Build call: either Emit is true and
// Signal is populated, or Emit is false and Reason explains why nothing
// was produced (for logging/metrics only, never surfaced to storage).
type Result struct {
	Emit   bool
	Signal model.Signal
	Reason string
}

// Build combines opinions (all produced for the same symbol and cycle)
// with the symbol's current regime into a consensus Result.
func (e *Engine) Build(symbol model.Symbol, opinions []model.SourceOpinion, regime model.Regime, now time.Time) Result {
	start := time.Now()
	defer func() { e.metrics.buildDuration.Observe(time.Since(start).Seconds()) }()

	weights := e.weightsFor(symbol)
	active := activeOpinions(opinions)

	if len(active) == 0 {
		e.metrics.noSignalTotal.WithLabelValues("no_valid_source").Inc()
		return Result{Reason: "no_valid_source"}
	}

	normalized := renormalize(active, weights)

	var raw rawResult
	switch len(normalized) {
	case 1:
		raw = e.singleSource(normalized[0], regime)
	case 2:
		raw = e.twoSource(normalized)
	default:
		raw = e.threeOrMore(normalized, regime)
	}

	if !raw.ok {
		e.metrics.noSignalTotal.WithLabelValues(raw.reason).Inc()
		return Result{Reason: raw.reason}
	}

	entryPrice, ok := primaryPrice(opinions, now)
	if !ok {
		e.metrics.noSignalTotal.WithLabelValues("no_entry_price").Inc()
		return Result{Reason: "no_entry_price"}
	}

	calibrated, isIdentity := e.calibrator.Calibrate(raw.confidence)

	target, stop := e.deriveTargetAndStop(symbol, regime, entryPrice, raw.direction, now)

	sig := model.Signal{
		Symbol:               symbol,
		Action:               directionToAction(raw.direction),
		Confidence:           calibrated,
		EntryPrice:           entryPrice,
		TargetPrice:          target,
		StopPrice:            stop,
		Regime:               regime.State,
		StrategyVersion:      e.cfg.StrategyVersion,
		GeneratedAt:          now,
		ContributingSources:  raw.sources,
		CalibratedIsIdentity: isIdentity,
	}

	e.metrics.signalsEmittedTotal.WithLabelValues(string(sig.Action)).Inc()
	return Result{Emit: true, Signal: sig}
}

func (e *Engine) weightsFor(symbol model.Symbol) map[string]float64 {
	if symbol.Class == model.SymbolCrypto {
		return e.cfg.CryptoWeights
	}
	return e.cfg.StockWeights
}

// directionToAction converts a resolved LONG/SHORT direction into a
// storable BUY/SELL action. NEUTRAL never reaches here — callers only
// invoke this after a direction has won.
func directionToAction(d model.Direction) model.Action {
	if d == model.DirectionShort {
		return model.ActionSell
	}
	return model.ActionBuy
}

// activeOpinions drops anything not OK this cycle, per spec's "missing
// sources are dropped."
func activeOpinions(opinions []model.SourceOpinion) []model.SourceOpinion {
	out := make([]model.SourceOpinion, 0, len(opinions))
	for _, o := range opinions {
		if o.Validity == model.ValidityOK {
			out = append(out, o)
		}
	}
	return out
}

// weightedOpinion pairs an opinion with its renormalized weight.
type weightedOpinion struct {
	model.SourceOpinion
	weight float64
}

// renormalize assigns each active opinion its base weight (defaulting
// to 0 for an unconfigured source_id) and rescales so the active set
// sums to 1.
func renormalize(active []model.SourceOpinion, base map[string]float64) []weightedOpinion {
	out := make([]weightedOpinion, len(active))
	sum := 0.0
	for i, o := range active {
		w := base[o.SourceID]
		out[i] = weightedOpinion{SourceOpinion: o, weight: w}
		sum += w
	}
	if sum <= 0 {
		return out
	}
	for i := range out {
		out[i].weight /= sum
	}
	return out
}

type rawResult struct {
	ok         bool
	reason     string
	direction  model.Direction
	confidence float64
	sources    []model.ContributingSource
}

func contributingSource(o weightedOpinion) model.ContributingSource {
	return model.ContributingSource{
		SourceID:   o.SourceID,
		Direction:  o.Direction,
		Weight:     o.weight,
		Confidence: o.Confidence,
	}
}

// singleSource implements spec §4.2's single-source case, including the
// NEUTRAL-coerced-by-regime path.
func (e *Engine) singleSource(o weightedOpinion, regime model.Regime) rawResult {
	if o.Direction != model.DirectionNeutral {
		if o.Confidence >= 0.80 {
			return rawResult{ok: true, direction: o.Direction, confidence: o.Confidence, sources: []model.ContributingSource{contributingSource(o)}}
		}
		return rawResult{reason: "single_source_below_threshold"}
	}
	if o.Confidence >= 0.65 {
		dir := directionForRegime(regime.State)
		if dir == model.DirectionNeutral {
			return rawResult{reason: "single_source_neutral_no_regime_bias"}
		}
		return rawResult{ok: true, direction: dir, confidence: o.Confidence, sources: []model.ContributingSource{contributingSource(o)}}
	}
	return rawResult{reason: "single_source_neutral_below_threshold"}
}

// twoSource implements spec §4.2's two-source case.
func (e *Engine) twoSource(opinions []weightedOpinion) rawResult {
	a, b := opinions[0], opinions[1]
	if a.Direction == b.Direction && a.Direction != model.DirectionNeutral {
		conf := a.weight*a.Confidence + b.weight*b.Confidence
		if conf >= 0.75 {
			return rawResult{ok: true, direction: a.Direction, confidence: conf, sources: []model.ContributingSource{contributingSource(a), contributingSource(b)}}
		}
		return rawResult{reason: "two_source_agree_below_threshold"}
	}

	scoreA := a.weight * a.Confidence
	scoreB := b.weight * b.Confidence
	winner, loser := a, b
	winnerScore, loserScore := scoreA, scoreB
	if scoreB > scoreA {
		winner, loser = b, a
		winnerScore, loserScore = scoreB, scoreA
	}
	if winner.Direction == model.DirectionNeutral {
		return rawResult{reason: "two_source_no_directional_winner"}
	}
	conf := winnerScore - loserScore
	if conf >= 0.70 {
		return rawResult{ok: true, direction: winner.Direction, confidence: conf, sources: []model.ContributingSource{contributingSource(winner), contributingSource(loser)}}
	}
	return rawResult{reason: "two_source_disagree_below_threshold"}
}

// threeOrMore implements spec §4.2's three-or-more-source case,
// including the pinned raw_confidence scaling:
//
//	raw_confidence = clamp((S_d* - S_second) / S_d*, 0, 1)
//
// normalized by the winning score itself rather than by total weight
// mass — verified against the spec's worked example (S_LONG=0.57,
// S_SHORT=0.24 scales to ~0.579, below the 0.80 threshold, no signal).
func (e *Engine) threeOrMore(opinions []weightedOpinion, regime model.Regime) rawResult {
	scores := map[model.Direction]float64{
		model.DirectionLong:    0,
		model.DirectionShort:   0,
		model.DirectionNeutral: 0,
	}
	bySource := map[model.Direction][]weightedOpinion{}
	for _, o := range opinions {
		scores[o.Direction] += o.weight * o.Confidence
		bySource[o.Direction] = append(bySource[o.Direction], o)
	}

	winner := topDirection(scores, "")
	second := topDirection(scores, winner)

	if winner == model.DirectionNeutral {
		return rawResult{reason: "three_source_neutral_wins"}
	}

	sWinner := scores[winner]
	sSecond := scores[second]
	if sWinner <= 0 {
		return rawResult{reason: "three_source_zero_score"}
	}

	raw := (sWinner - sSecond) / sWinner
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}

	// Tie-break: if the top two scores are within floating-point
	// tolerance, prefer the direction aligned with the current regime;
	// if that still doesn't resolve it, drop the signal.
	if math.Abs(sWinner-sSecond) < 1e-9 {
		aligned := directionForRegime(regime.State)
		if aligned != winner && aligned != second {
			return rawResult{reason: "three_source_tie_no_regime_alignment"}
		}
		if aligned == second {
			winner, second = second, winner
			sWinner, sSecond = sSecond, sWinner
		}
	}

	if raw < 0.80 {
		return rawResult{reason: "three_source_below_threshold"}
	}

	sources := make([]model.ContributingSource, 0, len(opinions))
	for _, o := range opinions {
		sources = append(sources, contributingSource(o))
	}

	return rawResult{ok: true, direction: winner, confidence: raw, sources: sources}
}

func topDirection(scores map[model.Direction]float64, exclude model.Direction) model.Direction {
	best := model.Direction("")
	bestScore := -1.0
	for d, s := range scores {
		if d == exclude {
			continue
		}
		if s > bestScore {
			bestScore = s
			best = d
		}
	}
	return best
}

// directionForRegime gives the regime's dominant directional bias, used
// both for the single-source NEUTRAL-coercion case and the
// three-or-more tie-break.
func directionForRegime(r model.RegimeState) model.Direction {
	switch r {
	case model.RegimeBull:
		return model.DirectionLong
	case model.RegimeBear:
		return model.DirectionShort
	default:
		return model.DirectionNeutral
	}
}

// primaryPrice extracts the most recent trade price from the primary
// market-data opinion's indicators bag. Per spec §4.2 "if unavailable,
// the signal is dropped."
func primaryPrice(opinions []model.SourceOpinion, now time.Time) (float64, bool) {
	for _, o := range opinions {
		if o.SourceID != MarketDataSourceID || o.Validity != model.ValidityOK {
			continue
		}
		v, ok := o.Indicators["last_price"]
		if !ok {
			continue
		}
		price, ok := v.(float64)
		if !ok || price <= 0 {
			continue
		}
		return price, true
	}
	return 0, false
}

// deriveTargetAndStop scales the volatility estimate by the configured
// multiples; stops tighten automatically in CRISIS per spec §4.2.
func (e *Engine) deriveTargetAndStop(symbol model.Symbol, regime model.Regime, entry float64, dir model.Direction, now time.Time) (*float64, *float64) {
	pct, ok := e.vol.Estimate(symbol, now)
	if !ok {
		return nil, nil
	}

	stopMultiple := e.cfg.StopMultiple
	if regime.State == model.RegimeCrisis {
		stopMultiple *= 0.5
	}

	sign := 1.0
	if dir == model.DirectionShort {
		sign = -1.0
	}

	target := entry * (1 + sign*pct*e.cfg.TargetMultiple)
	stop := entry * (1 - sign*pct*stopMultiple)
	return &target, &stop
}
