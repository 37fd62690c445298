// Signal Generation Service
// Drives one Weighted Consensus Engine cycle per symbol on a fixed
// interval and persists whatever it emits to the Unified Signal Store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/signalpipe/signalpipe/internal/adapters"
	"github.com/signalpipe/signalpipe/internal/calibration"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/generation"
	"github.com/signalpipe/signalpipe/internal/market"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
)

var (
	symbolsFlag = flag.String("symbols", "BTC:CRYPTO,ETH:CRYPTO", "Comma-separated ticker:class pairs, e.g. BTC:CRYPTO,AAPL:STOCK")

	cycleInterval = flag.Duration("cycle-interval", 30*time.Second, "How often each symbol is re-evaluated")
	cycleDeadline = flag.Duration("cycle-deadline", 10*time.Second, "Per-symbol cycle deadline")
	maxConcurrent = flag.Int("max-concurrent-symbols", 8, "Maximum symbol cycles running at once")

	coinGeckoAPIKey  = flag.String("coingecko-api-key", "", "CoinGecko API key (env COINGECKO_API_KEY also read)")
	cryptoPanicKey   = flag.String("cryptopanic-api-key", "", "CryptoPanic API key (env CRYPTOPANIC_API_KEY also read); sentiment adapter disabled if empty")
	sentimentLookback = flag.Duration("sentiment-lookback", 6*time.Hour, "How far back the sentiment adapter looks for news")

	targetMultiple  = flag.Float64("target-multiple", 2.0, "Volatility multiple sizing the take-profit")
	stopMultiple    = flag.Float64("stop-multiple", 1.0, "Volatility multiple sizing the stop-loss")
	strategyVersion = flag.String("strategy-version", "v1", "Strategy version tag recorded on emitted signals")

	verbose = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	symbols, err := parseSymbols(*symbolsFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -symbols")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	scheduler, err := buildScheduler(symbols, database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build scheduler")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(errChan)
	}()

	log.Info().Strs("symbols", symbolTickers(symbols)).Dur("cycle_interval", *cycleInterval).Msg("generation: started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("generation: received shutdown signal")
	case <-errChan:
		log.Warn().Msg("generation: scheduler loop exited unexpectedly")
	}

	scheduler.Stop()
	cancel()
}

func buildScheduler(symbols []model.Symbol, database *db.DB) (*generation.Scheduler, error) {
	apiKey := *coinGeckoAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("COINGECKO_API_KEY")
	}
	coinGeckoClient, err := market.NewCoinGeckoClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("coingecko client: %w", err)
	}
	priceSource := adapters.NewCoinGeckoPriceSource(coinGeckoClient)

	regimeCfg := regime.DefaultConfig()
	history := adapters.NewPriceHistory(regimeCfg.LongWindow * 3)

	adapterList := []adapters.Adapter{
		adapters.NewMarketDataAdapter(priceSource, history, rate.NewLimiter(rate.Every(time.Second), 5), 5*time.Second, log.Logger),
		adapters.NewTechnicalAdapter(history, rate.NewLimiter(rate.Every(time.Second), 5), log.Logger),
	}

	panicKey := *cryptoPanicKey
	if panicKey == "" {
		panicKey = os.Getenv("CRYPTOPANIC_API_KEY")
	}
	if panicKey != "" {
		news := adapters.NewCryptoPanicNewsSource(panicKey, nil)
		adapterList = append(adapterList, adapters.NewSentimentAdapter(news, rate.NewLimiter(rate.Every(2*time.Second), 3), *sentimentLookback, log.Logger))
	} else {
		log.Warn().Msg("generation: no cryptopanic API key, sentiment source disabled")
	}

	vol := regime.NewEstimator(history, regimeCfg.LongWindow)
	consensusCfg := consensus.Config{
		StockWeights:    map[string]float64{"market_data": 0.4, "technical": 0.6},
		CryptoWeights:   map[string]float64{"market_data": 0.3, "technical": 0.45, "sentiment": 0.25},
		TargetMultiple:  *targetMultiple,
		StopMultiple:    *stopMultiple,
		StrategyVersion: *strategyVersion,
	}
	engine := consensus.New(consensusCfg, calibration.Identity(), vol, log.Logger)

	schedCfg := generation.Config{
		CycleInterval:        *cycleInterval,
		CycleDeadline:        *cycleDeadline,
		MaxConcurrentSymbols: *maxConcurrent,
	}

	return generation.New(symbols, engine, database, adapterList, history, regimeCfg, schedCfg, log.Logger), nil
}

func parseSymbols(raw string) ([]model.Symbol, error) {
	parts := strings.Split(raw, ",")
	symbols := make([]model.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.SplitN(p, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed symbol %q, expected TICKER:CLASS", p)
		}
		class := model.SymbolClass(strings.ToUpper(fields[1]))
		if class != model.SymbolStock && class != model.SymbolCrypto {
			return nil, fmt.Errorf("unknown symbol class %q in %q", fields[1], p)
		}
		symbols = append(symbols, model.Symbol{Ticker: strings.ToUpper(fields[0]), Class: class})
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	return symbols, nil
}

func symbolTickers(symbols []model.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.Ticker
	}
	return out
}
