// Backtest Runner CLI
// Replays one symbol's historical bars through the Weighted Consensus
// Engine across a train/validation/test split and reports calibrated
// performance on the test window alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/backtest"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
)

var (
	symbol      = flag.String("symbol", "", "Ticker to replay, e.g. BTC or AAPL")
	symbolClass = flag.String("class", "CRYPTO", "Symbol class (STOCK, CRYPTO)")
	exchange    = flag.String("exchange", "", "Exchange/venue the candlesticks were recorded under")
	interval    = flag.String("interval", "1h", "Candle interval, e.g. 1h, 1d")

	trainStart = flag.String("train-start", "", "Training window start (YYYY-MM-DD)")
	trainEnd   = flag.String("train-end", "", "Training window end (YYYY-MM-DD)")
	valStart   = flag.String("val-start", "", "Validation window start (YYYY-MM-DD)")
	valEnd     = flag.String("val-end", "", "Validation window end (YYYY-MM-DD)")
	testStart  = flag.String("test-start", "", "Test window start (YYYY-MM-DD)")
	testEnd    = flag.String("test-end", "", "Test window end (YYYY-MM-DD)")

	initialCapital = flag.Float64("capital", 10000.0, "Initial capital in USD")
	slippagePct    = flag.Float64("slippage-pct", 0.0005, "Slippage cost, fraction of notional")
	halfSpreadPct  = flag.Float64("half-spread-pct", 0.0001, "Half-spread cost, fraction of notional")
	commissionPct  = flag.Float64("commission-pct", 0.001, "Commission, fraction of notional")

	targetMultiple  = flag.Float64("target-multiple", 2.0, "Volatility multiple used to size the take-profit")
	stopMultiple    = flag.Float64("stop-multiple", 1.0, "Volatility multiple used to size the stop-loss")
	strategyVersion = flag.String("strategy-version", "v1", "Strategy version tag recorded on emitted signals")

	verbose = flag.Bool("verbose", false, "Enable debug logging")

	reportDir = flag.String("report-dir", "", "Directory to write an HTML performance report to (skipped if empty)")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *symbol == "" || *exchange == "" {
		fmt.Fprintln(os.Stderr, "Error: -symbol and -exchange are required")
		flag.Usage()
		os.Exit(1)
	}

	req, err := buildRequest()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid backtest request")
	}

	ctx := context.Background()
	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	consensusCfg := consensus.Config{
		StockWeights:    map[string]float64{"market_data": 0.4, "technical": 0.6},
		CryptoWeights:   map[string]float64{"market_data": 0.35, "technical": 0.65},
		TargetMultiple:  *targetMultiple,
		StopMultiple:    *stopMultiple,
		StrategyVersion: *strategyVersion,
	}
	regimeCfg := regime.DefaultConfig()

	runner := backtest.NewRunner(database, consensusCfg, regimeCfg, *reportDir, log.Logger)

	log.Info().
		Str("symbol", req.Symbol.Ticker).
		Str("class", string(req.Symbol.Class)).
		Str("exchange", req.Exchange).
		Str("interval", req.Interval).
		Msg("starting backtest run")

	runID, err := runner.Run(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Str("run_id", runID).Msg("backtest run failed")
	}

	run, err := database.GetBacktestRun(ctx, runID)
	if err != nil {
		log.Fatal().Err(err).Str("run_id", runID).Msg("failed to load completed run")
	}

	printReport(&run)
	if *reportDir != "" {
		fmt.Printf("\nHTML report: %s\n", filepath.Join(*reportDir, runID+".html"))
	}
}

func buildRequest() (backtest.Request, error) {
	dates := map[string]*string{
		"train-start": trainStart, "train-end": trainEnd,
		"val-start": valStart, "val-end": valEnd,
		"test-start": testStart, "test-end": testEnd,
	}
	parsed := make(map[string]time.Time, len(dates))
	for field, raw := range dates {
		if *raw == "" {
			return backtest.Request{}, fmt.Errorf("-%s is required", field)
		}
		t, err := time.Parse("2006-01-02", *raw)
		if err != nil {
			return backtest.Request{}, fmt.Errorf("-%s: %w", field, err)
		}
		parsed[field] = t
	}

	return backtest.Request{
		Symbol: model.Symbol{
			Ticker: *symbol,
			Class:  model.SymbolClass(*symbolClass),
		},
		Exchange:       *exchange,
		Interval:       *interval,
		TrainRange:     model.DateRange{Start: parsed["train-start"], End: parsed["train-end"]},
		ValRange:       model.DateRange{Start: parsed["val-start"], End: parsed["val-end"]},
		TestRange:      model.DateRange{Start: parsed["test-start"], End: parsed["test-end"]},
		InitialCapital: *initialCapital,
		CostModel: model.CostModel{
			SlippagePct:   *slippagePct,
			HalfSpreadPct: *halfSpreadPct,
			CommissionPct: *commissionPct,
		},
	}, nil
}

func printReport(run *model.BacktestRun) {
	fmt.Printf("Backtest Run %s\n", run.RunID)
	fmt.Printf("Symbol:   %s (%s)\n", run.Symbol.Ticker, run.Symbol.Class)
	fmt.Printf("Status:   %s\n", run.Status)
	if run.Status != model.BacktestComplete || run.Metrics == nil {
		if run.Error != "" {
			fmt.Printf("Error:    %s\n", run.Error)
		}
		return
	}

	m := run.Metrics
	fmt.Printf("\nTest window: %s -> %s\n", run.TestRange.Start.Format("2006-01-02"), run.TestRange.End.Format("2006-01-02"))
	fmt.Printf("Trades:           %d\n", m.TotalTrades)
	fmt.Printf("Win rate:         %.2f%%\n", m.WinRate*100)
	fmt.Printf("Avg return/trade: %.4f\n", m.AvgReturnPerTrade)
	fmt.Printf("Sharpe ratio:     %.3f\n", m.SharpeRatio)
	fmt.Printf("Max drawdown:     %.2f%%\n", m.MaxDrawdownPct)
	fmt.Printf("Profit factor:    %.3f\n", m.ProfitFactor)
	if len(m.CalibrationBuckets) > 0 {
		fmt.Println("\nCalibration reliability:")
		for _, b := range m.CalibrationBuckets {
			fmt.Printf("  [%.2f, %.2f) n=%d win_rate=%.3f\n", b.ConfidenceLow, b.ConfidenceHigh, b.SampleCount, b.WinRate)
		}
	}
}
