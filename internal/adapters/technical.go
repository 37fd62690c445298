package adapters

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/indicators"
	"github.com/signalpipe/signalpipe/internal/model"
)

// TechnicalAdapter reads the rolling close-price window MarketDataAdapter
// feeds and scores it with internal/indicators' RSI/MACD/Bollinger
// calculations, grounded on cmd/agents/technical-agent/main.go's
// IndicatorValues aggregation — stripped of its BDI belief base and
// NATS publishing, reduced to a single SourceOpinion per cycle.
type TechnicalAdapter struct {
	service *indicators.Service
	history *PriceHistory
	limiter *rate.Limiter
	log     zerolog.Logger

	rsiPeriod int
}

func NewTechnicalAdapter(history *PriceHistory, limiter *rate.Limiter, log zerolog.Logger) *TechnicalAdapter {
	return &TechnicalAdapter{
		service:   indicators.NewService(),
		history:   history,
		limiter:   limiter,
		log:       log,
		rsiPeriod: 14,
	}
}

func (a *TechnicalAdapter) SourceID() string { return "technical" }

func (a *TechnicalAdapter) Opinion(ctx context.Context, symbol model.Symbol, now time.Time) model.SourceOpinion {
	if err := a.limiter.Wait(ctx); err != nil {
		return unavailable(a.SourceID(), symbol, now)
	}

	prices := a.history.snapshot(symbol)
	if len(prices) < a.rsiPeriod+1 {
		// not enough history yet to trust momentum math
		return unavailable(a.SourceID(), symbol, now)
	}

	args := map[string]interface{}{"prices": toInterfaceSlice(prices), "period": a.rsiPeriod}
	raw, err := a.service.CalculateRSI(args)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol.Ticker).Msg("technical adapter: RSI failed")
		return unavailable(a.SourceID(), symbol, now)
	}
	rsi := raw.(*indicators.RSIResult)

	direction, confidence := directionFromRSI(rsi.Value)

	// Technical tie-break: a trend too ambiguous to call directional on
	// RSI alone gets coerced once confidence clears 0.55, with a +0.08
	// bump — spec.md "coerce NEUTRAL into a directional opinion ... if
	// the short-MA / long-MA relation is decisive."
	if direction == model.DirectionNeutral && confidence >= 0.55 {
		if decisive := momentumSign(prices); decisive != model.DirectionNeutral {
			direction = decisive
			confidence += 0.08
			if confidence > 1.0 {
				confidence = 1.0
			}
		}
	}

	return model.SourceOpinion{
		SourceID:   a.SourceID(),
		Symbol:     symbol,
		ProducedAt: now,
		Direction:  direction,
		Confidence: confidence,
		Indicators: map[string]any{
			"rsi":        rsi.Value,
			"rsi_signal": rsi.Signal,
		},
		Validity: model.ValidityOK,
	}
}

// directionFromRSI maps RSI's oversold/overbought bands onto a
// directional opinion: oversold biases LONG (mean-reversion buy),
// overbought biases SHORT, the neutral band in between stays NEUTRAL.
// Confidence scales with distance from the 50 midpoint.
func directionFromRSI(rsi float64) (model.Direction, float64) {
	const mid = 50.0
	distance := absf(rsi-mid) / mid
	confidence := clamp01(distance)

	switch {
	case rsi < 30:
		return model.DirectionLong, confidence
	case rsi > 70:
		return model.DirectionShort, confidence
	default:
		return model.DirectionNeutral, confidence
	}
}

func toInterfaceSlice(prices []float64) []interface{} {
	out := make([]interface{}, len(prices))
	for i, p := range prices {
		out[i] = p
	}
	return out
}
