package adapters

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/market"
	"github.com/signalpipe/signalpipe/internal/model"
)

// PriceSource is the vendor price feed a MarketDataAdapter reads from.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol, vsCurrency string) (price float64, err error)
}

// coinGeckoClient is the subset of internal/market's CoinGecko clients a
// PriceSource adapts over.
type coinGeckoClient interface {
	GetPrice(ctx context.Context, symbol, vsCurrency string) (*market.PriceResult, error)
}

// CoinGeckoPriceSource adapts internal/market's CoinGeckoClient or
// CachedCoinGeckoClient (both satisfy coinGeckoClient) into a PriceSource.
type CoinGeckoPriceSource struct {
	client coinGeckoClient
}

func NewCoinGeckoPriceSource(client coinGeckoClient) *CoinGeckoPriceSource {
	return &CoinGeckoPriceSource{client: client}
}

func (s *CoinGeckoPriceSource) GetPrice(ctx context.Context, symbol, vsCurrency string) (float64, error) {
	result, err := s.client.GetPrice(ctx, symbol, vsCurrency)
	if err != nil {
		return 0, err
	}
	return result.Price, nil
}

// MarketDataAdapter is the primary vendor price feed: it anchors
// entry_price for every emitted signal (spec §4.2 price anchoring) and
// contributes its own directional opinion with a 0.60/+0.05 tie-break,
// grounded on internal/market's CoinGecko client stripped of its
// Postgres sync-service concerns.
type MarketDataAdapter struct {
	source  PriceSource
	history *PriceHistory
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger

	vsCurrency string
}

// NewMarketDataAdapter builds a MarketDataAdapter. history is shared with
// a TechnicalAdapter over the same process so both read the same rolling
// close-price window.
func NewMarketDataAdapter(source PriceSource, history *PriceHistory, limiter *rate.Limiter, timeout time.Duration, log zerolog.Logger) *MarketDataAdapter {
	return &MarketDataAdapter{
		source:     source,
		history:    history,
		limiter:    limiter,
		timeout:    timeout,
		log:        log,
		vsCurrency: "usd",
	}
}

func (a *MarketDataAdapter) SourceID() string { return "market_data" }

func (a *MarketDataAdapter) Opinion(ctx context.Context, symbol model.Symbol, now time.Time) model.SourceOpinion {
	if err := a.limiter.Wait(ctx); err != nil {
		return unavailable(a.SourceID(), symbol, now)
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	price, err := a.source.GetPrice(cctx, symbol.Ticker, a.vsCurrency)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol.Ticker).Msg("market data adapter: vendor call failed")
		return unavailable(a.SourceID(), symbol, now)
	}

	a.history.push(symbol, price)
	series := a.history.snapshot(symbol)

	direction, confidence := priceMomentum(series)

	// 0.60/+0.05 tie-break: a momentum too weak to pick a direction is
	// coerced into one once confidence clears 0.60, instead of staying
	// NEUTRAL — spec.md "own coercion at confidence >= 0.60 and a +0.05 bump."
	if direction == model.DirectionNeutral && confidence >= 0.60 {
		direction = momentumSign(series)
		confidence += 0.05
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	return model.SourceOpinion{
		SourceID:   a.SourceID(),
		Symbol:     symbol,
		ProducedAt: now,
		Direction:  direction,
		Confidence: confidence,
		Indicators: map[string]any{
			"last_price": price,
		},
		Validity: model.ValidityOK,
	}
}

// priceMomentum turns a short rolling window of closes into a direction
// and confidence from the percentage move between the window's first and
// last close: LONG above +0.1%, SHORT below -0.1%, NEUTRAL in between,
// with confidence 20x the absolute move, capped at 1. A window too short
// to judge momentum from stays NEUTRAL with zero confidence.
func priceMomentum(series []float64) (model.Direction, float64) {
	const minWindow = 3
	if len(series) < minWindow {
		return model.DirectionNeutral, 0
	}

	first, last := series[0], series[len(series)-1]
	if first == 0 {
		return model.DirectionNeutral, 0
	}

	pctMove := (last - first) / first
	confidence := clamp01(absf(pctMove) * 20) // a 5% move saturates confidence

	switch {
	case pctMove > 0.001:
		return model.DirectionLong, confidence
	case pctMove < -0.001:
		return model.DirectionShort, confidence
	default:
		return model.DirectionNeutral, confidence
	}
}

func momentumSign(series []float64) model.Direction {
	if len(series) < 2 {
		return model.DirectionNeutral
	}
	if series[len(series)-1] >= series[0] {
		return model.DirectionLong
	}
	return model.DirectionShort
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

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
