package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/signalpipe/signalpipe/internal/calibration"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
	btengine "github.com/signalpipe/signalpipe/pkg/backtest"
)

func TestEffectiveCommissionRateSumsCostComponents(t *testing.T) {
	rate := effectiveCommissionRate(model.CostModel{
		SlippagePct:   0.0005,
		HalfSpreadPct: 0.0002,
		CommissionPct: 0.001,
	})
	assert.InDelta(t, 0.0017, rate, 1e-9)
}

func TestLeadInBarsHasAFloor(t *testing.T) {
	cfg := regime.Config{LongWindow: 5}
	assert.Equal(t, 30, leadInBars(cfg))

	cfg = regime.Config{LongWindow: 20}
	assert.Equal(t, 60, leadInBars(cfg))
}

func TestSliceByRangeReturnsOnlyCandlesInWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*btengine.Candlestick, 0, 10)
	for i := 0; i < 10; i++ {
		candles = append(candles, &btengine.Candlestick{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour)})
	}

	got := sliceByRange(candles, base.Add(2*24*time.Hour), base.Add(5*24*time.Hour))
	assert.Len(t, got, 4)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*24*time.Hour)))
	assert.True(t, got[len(got)-1].Timestamp.Equal(base.Add(5*24*time.Hour)))
}

func TestReliabilityBucketsBinsByConfidence(t *testing.T) {
	samples := []calibration.Sample{
		{Raw: 0.05, Won: true},
		{Raw: 0.05, Won: false},
		{Raw: 0.95, Won: true},
	}

	buckets := reliabilityBuckets(samples, 10)
	assert.Len(t, buckets, 2) // only the buckets holding samples are reported

	low := buckets[0]
	assert.InDelta(t, 0.0, low.ConfidenceLow, 1e-9)
	assert.InDelta(t, 0.1, low.ConfidenceHigh, 1e-9)
	assert.Equal(t, 2, low.SampleCount)
	assert.InDelta(t, 0.5, low.WinRate, 1e-9)

	high := buckets[1]
	assert.Equal(t, 1, high.SampleCount)
	assert.InDelta(t, 1.0, high.WinRate, 1e-9)
}

func TestReliabilityBucketsEmptySamplesProduceNoBuckets(t *testing.T) {
	buckets := reliabilityBuckets(nil, 10)
	assert.Empty(t, buckets)
}
