package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/adapters"
	"github.com/signalpipe/signalpipe/internal/calibration"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
	btengine "github.com/signalpipe/signalpipe/pkg/backtest"
)

// ConsensusStrategy bridges pkg/backtest.Engine's bar-by-bar replay to the
// Weighted Consensus Engine, so a backtest exercises the exact same
// opinion-gathering -> regime classification -> consensus build pipeline
// the live generation scheduler runs, just fed historical closes instead
// of live vendor calls.
//
// Grounded on internal/generation.Scheduler's per-cycle shape
// (collectOpinions -> detector.Update -> engine.Build); satisfies
// pkg/backtest.Strategy the way the teacher's own strategies did.
//
// The sentiment adapter has no home here: a backtest has no historical
// news corpus to replay against, only OHLCV bars, so replay runs on
// market-data + technical opinions only. This narrows the opinion set
// the consensus engine sees relative to live trading — a known,
// documented gap, not an oversight.
type ConsensusStrategy struct {
	symbol   model.Symbol
	engine   *consensus.Engine
	detector *regime.Detector
	history  *adapters.PriceHistory
	adaptrs  []adapters.Adapter
	log      zerolog.Logger

	currentClose float64
	pending      pendingBracket
	recorded     []recordedSignal

	// tradingFrom gates signal emission: bars before it still feed the
	// shared history/detector (so the technical adapter and regime
	// detector aren't cold at the boundary) but never produce a trade.
	// Zero value means no gating.
	tradingFrom time.Time
}

// SetTradingFrom gates out any signal before t, while still running every
// bar through history/detector updates — used to warm a fresh replay's
// indicators on a lead-in window (e.g. the train+val tail) without
// letting it open positions before the measured window begins.
func (s *ConsensusStrategy) SetTradingFrom(t time.Time) {
	s.tradingFrom = t
}

type pendingBracket struct {
	open   bool
	target *float64
	stop   *float64
}

// recordedSignal pairs a BUY signal's raw confidence with the bar it was
// emitted on, so BuildSamples can later pair it with the ClosedPosition
// it produced.
type recordedSignal struct {
	at         time.Time
	confidence float64
}

// NewConsensusStrategy wires one symbol's replay. history is shared with
// the caller's VolatilityEstimator (internal/regime.Estimator) so the
// consensus engine's stop/target sizing reads the exact same rolling
// window the strategy's own adapters are pushing closes into.
func NewConsensusStrategy(symbol model.Symbol, cEngine *consensus.Engine, regimeCfg regime.Config, history *adapters.PriceHistory, log zerolog.Logger) *ConsensusStrategy {
	s := &ConsensusStrategy{
		symbol:   symbol,
		engine:   cEngine,
		detector: regime.New(symbol, regimeCfg, log),
		history:  history,
		log:      log.With().Str("component", "backtest_strategy").Logger(),
	}

	src := historicalPriceSource{close: func() float64 { return s.currentClose }}
	s.adaptrs = []adapters.Adapter{
		adapters.NewMarketDataAdapter(src, history, unlimited(), time.Second, log),
		adapters.NewTechnicalAdapter(history, unlimited(), log),
	}
	return s
}

// Initialize satisfies pkg/backtest.Strategy; warm-up is handled per-bar
// by the tradingFrom gate in GenerateSignals, not here.
func (s *ConsensusStrategy) Initialize(engine *btengine.Engine) error {
	return nil
}

// Finalize satisfies pkg/backtest.Strategy; the engine itself closes any
// still-open position after the last bar.
func (s *ConsensusStrategy) Finalize(engine *btengine.Engine) error {
	return nil
}

// GenerateSignals runs one consensus cycle against the current bar. A
// resting bracket (target/stop from the last BUY) is checked before a
// fresh cycle runs, so a stop/target crossing inside the bar's range
// closes the position even if this cycle's opinions would have held.
func (s *ConsensusStrategy) GenerateSignals(engine *btengine.Engine) ([]*btengine.Signal, error) {
	candle, err := engine.GetCurrentCandle(s.symbol.String())
	if err != nil {
		return nil, nil
	}
	s.currentClose = candle.Close
	s.history.Push(s.symbol, candle.Close)

	closes := s.history.Snapshot(s.symbol)
	regimeState := s.detector.Update(closes, candle.Timestamp)

	if !s.tradingFrom.IsZero() && candle.Timestamp.Before(s.tradingFrom) {
		return nil, nil
	}

	if bracket := s.checkBracket(candle); len(bracket) > 0 {
		return bracket, nil
	}

	ctx := context.Background()
	opinions := make([]model.SourceOpinion, len(s.adaptrs))
	for i, a := range s.adaptrs {
		opinions[i] = a.Opinion(ctx, s.symbol, candle.Timestamp)
	}

	result := s.engine.Build(s.symbol, opinions, regimeState, candle.Timestamp)
	if !result.Emit {
		return nil, nil
	}

	sig := result.Signal
	if sig.Action == model.ActionBuy {
		s.pending = pendingBracket{open: true, target: sig.TargetPrice, stop: sig.StopPrice}
		s.recorded = append(s.recorded, recordedSignal{at: candle.Timestamp, confidence: sig.Confidence})
	} else {
		s.pending = pendingBracket{}
	}

	return []*btengine.Signal{{
		Timestamp:  candle.Timestamp,
		Symbol:     s.symbol.String(),
		Side:       string(sig.Action),
		Confidence: sig.Confidence,
		Agent:      "consensus",
	}}, nil
}

// BuildSamples pairs every BUY this strategy emitted with the
// ClosedPosition it produced (matched by entry time — a symbol never
// holds more than one open position at once, so the match is unambiguous)
// and returns the (raw_confidence, won) training pairs a calibrator fit
// needs. Only meaningful when the engine's calibrator was calibration.
// Identity() for this run, so Signal.Confidence IS the raw score.
func (s *ConsensusStrategy) BuildSamples(engine *btengine.Engine) []calibration.Sample {
	byEntry := make(map[time.Time]*btengine.ClosedPosition, len(engine.ClosedPositions))
	for _, cp := range engine.ClosedPositions {
		byEntry[cp.EntryTime] = cp
	}

	samples := make([]calibration.Sample, 0, len(s.recorded))
	for _, r := range s.recorded {
		cp, ok := byEntry[r.at]
		if !ok {
			continue // position never closed out within the replay window
		}
		samples = append(samples, calibration.Sample{Raw: r.confidence, Won: cp.RealizedPL > 0})
	}
	return samples
}

// checkBracket closes an open position the moment the bar's range
// crosses its stop or target — mirroring a resting bracket order rather
// than waiting for the consensus engine to re-emit SELL on its own
// cadence, which could miss an intrabar reversal entirely.
func (s *ConsensusStrategy) checkBracket(candle *btengine.Candlestick) []*btengine.Signal {
	if !s.pending.open {
		return nil
	}

	hit := false
	if s.pending.stop != nil && candle.Low <= *s.pending.stop {
		hit = true
	}
	if s.pending.target != nil && candle.High >= *s.pending.target {
		hit = true
	}
	if !hit {
		return nil
	}

	s.pending = pendingBracket{}
	return []*btengine.Signal{{
		Timestamp: candle.Timestamp,
		Symbol:    s.symbol.String(),
		Side:      "SELL",
		Agent:     "bracket",
	}}
}
