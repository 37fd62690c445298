// Package backtest implements the Backtester: it replays a symbol's
// historical bars through the exact same Weighted Consensus Engine
// pipeline the live generation scheduler runs, splits the replay into
// train/validation/test windows per spec.md §4.9, fits a calibrator on
// train+validation only, and reports performance + calibration metrics
// computed on the test window alone.
//
// Grounded on pkg/backtest/job.go's PENDING->RUNNING->COMPLETE/FAILED
// job lifecycle and pkg/backtest/engine.go's bar-by-bar Strategy-driven
// Run loop, retargeted from a standalone job queue onto model.BacktestRun
// persisted by internal/db.
package backtest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/adapters"
	"github.com/signalpipe/signalpipe/internal/calibration"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
	btengine "github.com/signalpipe/signalpipe/pkg/backtest"
)

// Request describes one backtest run's symbol, three-way split, and cost
// model — the inputs to model.BacktestRun that a caller (cmd/backtest or
// the HTTP API) supplies; RunID/Status/Metrics are Runner's to fill in.
type Request struct {
	Symbol         model.Symbol
	Exchange       string
	Interval       string
	TrainRange     model.DateRange
	ValRange       model.DateRange
	TestRange      model.DateRange
	CostModel      model.CostModel
	InitialCapital float64
}

// Runner owns one backtest's full lifecycle against the persisted
// backtest_runs table.
type Runner struct {
	db           *db.DB
	loader       *btengine.HistoricalDataLoader
	consensusCfg consensus.Config
	regimeCfg    regime.Config
	reportDir    string
	log          zerolog.Logger
}

// NewRunner builds a Runner. reportDir is optional — when empty, Run
// persists metrics only and skips HTML report generation entirely.
func NewRunner(database *db.DB, consensusCfg consensus.Config, regimeCfg regime.Config, reportDir string, log zerolog.Logger) *Runner {
	return &Runner{
		db:           database,
		loader:       btengine.NewHistoricalDataLoader(database),
		consensusCfg: consensusCfg,
		regimeCfg:    regimeCfg,
		reportDir:    reportDir,
		log:          log.With().Str("component", "backtest_runner").Logger(),
	}
}

// Run inserts a PENDING backtest_runs row, executes the full replay, and
// persists COMPLETE+metrics or FAILED+error — mirroring the teacher's
// job-status transitions one-for-one, just against model.BacktestRun
// instead of a standalone backtest_jobs table.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	run := model.BacktestRun{
		Symbol:     req.Symbol,
		TrainRange: req.TrainRange,
		ValRange:   req.ValRange,
		TestRange:  req.TestRange,
		CostModel:  req.CostModel,
	}
	runID, err := r.db.InsertBacktestRun(ctx, run)
	if err != nil {
		return "", fmt.Errorf("backtest: insert run: %w", err)
	}

	if err := r.db.SetBacktestStatus(ctx, runID, model.BacktestRunning, nil, ""); err != nil {
		return runID, fmt.Errorf("backtest: mark running: %w", err)
	}

	metrics, runErr := r.execute(ctx, req, runID)
	if runErr != nil {
		r.log.Error().Err(runErr).Str("run_id", runID).Str("symbol", req.Symbol.Ticker).Msg("backtest: run failed")
		if err := r.db.SetBacktestStatus(ctx, runID, model.BacktestFailed, nil, runErr.Error()); err != nil {
			return runID, fmt.Errorf("backtest: mark failed: %w", err)
		}
		return runID, runErr
	}

	if err := r.db.SetBacktestStatus(ctx, runID, model.BacktestComplete, metrics, ""); err != nil {
		return runID, fmt.Errorf("backtest: mark complete: %w", err)
	}
	return runID, nil
}

// effectiveCommissionRate sums the three percentage-of-notional cost
// components spec.md §4.9 requires (slippage, half-spread, commission)
// into the single per-side rate pkg/backtest.Engine charges — they are
// mathematically equivalent to one combined fee for this engine's
// accounting, since none of the three depend on anything but trade
// notional.
func effectiveCommissionRate(cm model.CostModel) float64 {
	return cm.SlippagePct + cm.HalfSpreadPct + cm.CommissionPct
}

func (r *Runner) execute(ctx context.Context, req Request, runID string) (*model.BacktestMetrics, error) {
	symbol := req.Symbol
	windowStart := req.TrainRange.Start
	windowEnd := req.TestRange.End

	candles, err := r.loader.LoadFromDatabase(symbol.Ticker, req.Exchange, req.Interval, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s in [%s, %s]", symbol.Ticker, windowStart, windowEnd)
	}

	trainVal := sliceByRange(candles, req.TrainRange.Start, req.ValRange.End)
	test := sliceByRange(candles, req.TestRange.Start, req.TestRange.End)
	if len(trainVal) == 0 || len(test) == 0 {
		return nil, fmt.Errorf("empty train/val or test split for %s", symbol.Ticker)
	}

	// testLeadIn prepends up to leadInBars bars preceding the test split
	// (taken from the tail of trainVal, whatever data exists) so the
	// technical adapter and regime detector aren't cold at the test
	// boundary; ConsensusStrategy.SetTradingFrom still blocks any trade
	// before req.TestRange.Start.
	leadIn := leadInBars(r.regimeCfg)
	if leadIn > len(trainVal) {
		leadIn = len(trainVal)
	}
	testLeadIn := append(append([]*btengine.Candlestick{}, trainVal[len(trainVal)-leadIn:]...), test...)

	rate := effectiveCommissionRate(req.CostModel)

	calibrator, err := r.fitCalibrator(symbol, trainVal, rate, req.InitialCapital)
	if err != nil {
		return nil, fmt.Errorf("fit calibrator: %w", err)
	}

	return r.runTest(symbol, testLeadIn, req.TestRange.Start, rate, req.InitialCapital, calibrator, runID)
}

// newSharedHistory builds the PriceHistory window a replay's technical
// adapter, market-data adapter, and VolatilityEstimator all read from —
// sized generously past the regime detector's longest window so a
// classification never starves for bars.
func newSharedHistory(cfg regime.Config) *adapters.PriceHistory {
	capacity := cfg.LongWindow * 3
	if capacity < 60 {
		capacity = 60
	}
	return adapters.NewPriceHistory(capacity)
}

// leadInBars is how many bars before the test split a fresh replay
// starts feeding data, purely to warm the technical adapter and regime
// detector before the measured window begins — counted in bars rather
// than calendar time so it works regardless of the candle interval.
func leadInBars(cfg regime.Config) int {
	bars := cfg.LongWindow * 3
	if bars < 30 {
		bars = 30
	}
	return bars
}

// fitCalibrator runs the train+validation window once under an Identity
// calibrator, collects (raw_confidence, outcome) pairs from every trade
// it closed, and fits a monotonic Calibrator on them. Per spec.md §4.9,
// the test split never contributes to this fit.
func (r *Runner) fitCalibrator(symbol model.Symbol, bars []*btengine.Candlestick, commissionRate, initialCapital float64) (*calibration.Calibrator, error) {
	history := newSharedHistory(r.regimeCfg)
	vol := regime.NewEstimator(history, r.regimeCfg.LongWindow)
	cEngine := consensus.New(r.consensusCfg, calibration.Identity(), vol, r.log)
	strategy := NewConsensusStrategy(symbol, cEngine, r.regimeCfg, history, r.log)

	engine := btengine.NewEngine(btengine.BacktestConfig{
		InitialCapital: initialCapital,
		CommissionRate: commissionRate,
		PositionSizing: "fixed",
		PositionSize:   0.10,
		MaxPositions:   1,
		Symbols:        []string{symbol.String()},
	})
	if err := engine.LoadHistoricalData(symbol.String(), bars); err != nil {
		return nil, fmt.Errorf("load train+val bars: %w", err)
	}
	if err := engine.Run(context.Background(), strategy); err != nil {
		return nil, fmt.Errorf("replay train+val: %w", err)
	}

	samples := strategy.BuildSamples(engine)
	return calibration.Fit(samples, 10), nil
}

// runTest replays leadIn+test bars with the fitted calibrator, gates
// trading to start only at testStart, and returns metrics + calibration
// buckets computed purely from this engine's own (test-scoped) stats.
func (r *Runner) runTest(symbol model.Symbol, bars []*btengine.Candlestick, testStart time.Time, commissionRate, initialCapital float64, calibrator *calibration.Calibrator, runID string) (*model.BacktestMetrics, error) {
	history := newSharedHistory(r.regimeCfg)
	vol := regime.NewEstimator(history, r.regimeCfg.LongWindow)
	cEngine := consensus.New(r.consensusCfg, calibrator, vol, r.log)
	strategy := NewConsensusStrategy(symbol, cEngine, r.regimeCfg, history, r.log)
	strategy.SetTradingFrom(testStart)

	engine := btengine.NewEngine(btengine.BacktestConfig{
		InitialCapital: initialCapital,
		CommissionRate: commissionRate,
		PositionSizing: "fixed",
		PositionSize:   0.10,
		MaxPositions:   1,
		Symbols:        []string{symbol.String()},
	})
	if err := engine.LoadHistoricalData(symbol.String(), bars); err != nil {
		return nil, fmt.Errorf("load test bars: %w", err)
	}
	if err := engine.Run(context.Background(), strategy); err != nil {
		return nil, fmt.Errorf("replay test: %w", err)
	}

	rawMetrics, err := btengine.CalculateMetrics(engine)
	if err != nil {
		// No trade ever closed in the test window — report a zeroed,
		// not a failed, run: "no signal fired" is a valid outcome.
		return &model.BacktestMetrics{}, nil
	}

	r.writeReport(engine, runID)

	return &model.BacktestMetrics{
		WinRate:            rawMetrics.WinRate / 100.0,
		AvgReturnPerTrade:  rawMetrics.Expectancy,
		SharpeRatio:        rawMetrics.SharpeRatio,
		MaxDrawdownPct:     rawMetrics.MaxDrawdownPct,
		ProfitFactor:       rawMetrics.ProfitFactor,
		TotalTrades:        rawMetrics.TotalTrades,
		CalibrationBuckets: reliabilityBuckets(strategy.BuildSamples(engine), 10),
	}, nil
}

// writeReport saves an HTML performance report for the test-window engine
// alongside the persisted metrics, when the Runner was configured with a
// report directory. A failure here never fails the backtest run itself —
// the report is a convenience artifact, not part of the recorded result.
func (r *Runner) writeReport(engine *btengine.Engine, runID string) {
	if r.reportDir == "" {
		return
	}

	gen, err := btengine.NewReportGenerator(engine)
	if err != nil {
		r.log.Warn().Err(err).Str("run_id", runID).Msg("backtest: report generation skipped")
		return
	}

	path := filepath.Join(r.reportDir, fmt.Sprintf("%s.html", runID))
	if err := gen.SaveToFile(path); err != nil {
		r.log.Warn().Err(err).Str("run_id", runID).Msg("backtest: failed to save report")
		return
	}
	r.log.Info().Str("run_id", runID).Str("path", path).Msg("backtest: report saved")
}

// sliceByRange returns the contiguous run of candles whose timestamps
// fall in [start, end]; candles is assumed sorted ascending, as
// HistoricalDataLoader.LoadFromDatabase guarantees via ORDER BY open_time.
func sliceByRange(candles []*btengine.Candlestick, start, end time.Time) []*btengine.Candlestick {
	out := make([]*btengine.Candlestick, 0, len(candles))
	for _, c := range candles {
		if (c.Timestamp.Equal(start) || c.Timestamp.After(start)) && (c.Timestamp.Equal(end) || c.Timestamp.Before(end)) {
			out = append(out, c)
		}
	}
	return out
}

// reliabilityBuckets groups calibrated-confidence samples into nBuckets
// equal-width bins and reports each bin's empirical win rate — the
// calibration reliability curve spec.md §4.9 asks the Backtester to
// report alongside performance metrics.
func reliabilityBuckets(samples []calibration.Sample, nBuckets int) []model.ReliabilityBucket {
	if nBuckets < 1 {
		nBuckets = 10
	}
	width := 1.0 / float64(nBuckets)

	counts := make([]int, nBuckets)
	wins := make([]int, nBuckets)
	for _, s := range samples {
		idx := int(s.Raw / width)
		if idx >= nBuckets {
			idx = nBuckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
		if s.Won {
			wins[idx]++
		}
	}

	buckets := make([]model.ReliabilityBucket, 0, nBuckets)
	for i := 0; i < nBuckets; i++ {
		if counts[i] == 0 {
			continue
		}
		buckets = append(buckets, model.ReliabilityBucket{
			ConfidenceLow:  float64(i) * width,
			ConfidenceHigh: float64(i+1) * width,
			SampleCount:    counts[i],
			WinRate:        float64(wins[i]) / float64(counts[i]),
		})
	}
	return buckets
}
