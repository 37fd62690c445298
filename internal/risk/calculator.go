package risk

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
)

// Calculator provides the pure risk math shared by the pre-trade gate and
// the periodic monitor, plus the database-backed loaders that feed it.
// Pure functions (CalculateDrawdown, CalculateSharpeRatio, CalculateVaR,
// calculateStdDev) are the teacher's calculator.go kept verbatim — this
// is exactly the evaluator spec.md's pre/post-trade paths share. The
// *FromDB loaders are rewritten: the teacher read from a candlestick/
// session schema this system doesn't have; here they assemble a realized
// daily-PnL equity curve from this executor's closed signals.
type Calculator struct {
	db *db.DB
}

// NewCalculator builds a Calculator backed by the unified signal store.
func NewCalculator(database *db.DB) *Calculator {
	return &Calculator{db: database}
}

// PerformanceData holds a reconstructed equity curve and its returns.
type PerformanceData struct {
	EquityCurve []float64
	Returns     []float64
}

// WinRateData holds win rate statistics over an executor's resolved signals.
type WinRateData struct {
	WinRate       float64
	WinningTrades int64
	LosingTrades  int64
	TotalTrades   int64
}

// LoadRealizedPnL assembles an equity curve starting at startEquity from
// every resolved (WIN/LOSS) signal an executor has traded, in
// generated_at order. It is the input to CalculateDrawdown,
// CalculateSharpeRatio, and CalculateVaR below.
func (c *Calculator) LoadRealizedPnL(ctx context.Context, executorID string, startEquity float64, limit int) (*PerformanceData, error) {
	pnls, err := c.db.ListResolvedPnLPctForExecutor(ctx, executorID, limit)
	if err != nil {
		return nil, fmt.Errorf("risk: load realized pnl: %w", err)
	}

	equity := make([]float64, 0, len(pnls)+1)
	returns := make([]float64, 0, len(pnls))
	running := startEquity
	equity = append(equity, running)
	for _, pct := range pnls {
		ret := pct / 100.0
		returns = append(returns, ret)
		running *= 1 + ret
		equity = append(equity, running)
	}

	return &PerformanceData{EquityCurve: equity, Returns: returns}, nil
}

// CalculateWinRate summarizes an executor's resolved signals.
func (c *Calculator) CalculateWinRate(ctx context.Context, executorID string) (*WinRateData, error) {
	won, lost, err := c.db.CountResolvedOutcomesForExecutor(ctx, executorID)
	if err != nil {
		return nil, fmt.Errorf("risk: calculate win rate: %w", err)
	}

	total := won + lost
	data := &WinRateData{WinningTrades: won, LosingTrades: lost, TotalTrades: total}
	if total > 0 {
		data.WinRate = float64(won) / float64(total)
	}
	return data, nil
}

// CalculateSharpeRatio computes an annualized Sharpe ratio from a series
// of period returns, assuming daily granularity (252 trading days/yr).
func (c *Calculator) CalculateSharpeRatio(returns []float64, riskFreeRate float64) (float64, error) {
	if len(returns) == 0 {
		return 0, fmt.Errorf("returns array is empty")
	}

	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	meanReturn := sum / float64(len(returns))

	stdDev := calculateStdDev(returns)
	if stdDev == 0 {
		return 0, fmt.Errorf("standard deviation is zero")
	}

	annualizedReturn := meanReturn * 252.0
	annualizedStdDev := stdDev * math.Sqrt(252.0)
	sharpe := (annualizedReturn - riskFreeRate) / annualizedStdDev

	log.Debug().
		Float64("mean_return", meanReturn).
		Float64("std_dev", stdDev).
		Float64("sharpe_ratio", sharpe).
		Msg("sharpe ratio calculated")

	return sharpe, nil
}

// CalculateVaR returns (VaR, CVaR) at confidenceLevel from a series of
// period returns, both expressed as positive loss fractions.
func (c *Calculator) CalculateVaR(returns []float64, confidenceLevel float64) (float64, float64, error) {
	if len(returns) == 0 {
		return 0, 0, fmt.Errorf("returns array is empty")
	}
	if confidenceLevel <= 0 || confidenceLevel >= 1 {
		return 0, 0, fmt.Errorf("confidence level must be between 0 and 1")
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	slices.Sort(sorted)

	percentile := 1 - confidenceLevel
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	varValue := -sorted[index]

	var cvarSum float64
	cvarCount := 0
	for i := 0; i <= index; i++ {
		cvarSum += sorted[i]
		cvarCount++
	}
	cvarValue := 0.0
	if cvarCount > 0 {
		cvarValue = -cvarSum / float64(cvarCount)
	}

	return varValue, cvarValue, nil
}

// CalculateDrawdown returns the current and maximum peak-to-trough
// drawdown, and the observed peak, over an equity curve.
func (c *Calculator) CalculateDrawdown(equityCurve []float64) (currentDD, maxDD, peakEquity float64) {
	if len(equityCurve) == 0 {
		return 0, 0, 0
	}

	peak := equityCurve[0]
	currentEquity := equityCurve[len(equityCurve)-1]

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	if currentEquity < peak && peak > 0 {
		currentDD = (peak - currentEquity) / peak
	}

	return currentDD, maxDD, peak
}

func calculateStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	if len(values) > 1 {
		variance /= float64(len(values) - 1)
	} else {
		variance /= float64(len(values))
	}
	return math.Sqrt(variance)
}
