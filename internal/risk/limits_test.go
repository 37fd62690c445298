package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalpipe/signalpipe/internal/model"
)

func testAccount() model.ExecutorAccount {
	return model.ExecutorAccount{
		Kind:              model.ExecutorStandard,
		MaxPositions:      5,
		MaxPositionPct:    0.05,
		DailyLossLimitPct: 0.03,
		MaxDrawdownPct:    0.10,
	}
}

func TestEvaluateAllowsWithinLimits(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{OpenPositions: 1, EquityUSD: 100_000}, 1000)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Violations)
}

func TestEvaluateRejectsMaxPositions(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{OpenPositions: 5, EquityUSD: 100_000}, 1000)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Violations[0], "max_positions")
}

func TestEvaluateRejectsOversizedPosition(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{OpenPositions: 0, EquityUSD: 100_000}, 10_000)
	assert.False(t, v.Allowed)
}

func TestEvaluateRejectsDailyLossBreach(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{EquityUSD: 100_000, DailyRealizedLoss: 0.03}, 100)
	assert.False(t, v.Allowed)
}

func TestEvaluateRejectsDrawdownBreach(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{EquityUSD: 100_000, CurrentDrawdown: 0.10}, 100)
	assert.False(t, v.Allowed)
}

func TestEvaluatePropFirmStrictOnUnreadableBroker(t *testing.T) {
	account := testAccount()
	account.Kind = model.ExecutorPropFirm
	v := Evaluate(account, Snapshot{EquityUSD: 100_000, BrokerUnreadable: true}, 100)
	assert.False(t, v.Allowed)
}

func TestEvaluateStandardToleratesUnreadableBroker(t *testing.T) {
	v := Evaluate(testAccount(), Snapshot{EquityUSD: 100_000, BrokerUnreadable: true}, 100)
	assert.True(t, v.Allowed)
}

func TestNearLimitWarnsApproachingDrawdown(t *testing.T) {
	warnings := NearLimit(testAccount(), Snapshot{CurrentDrawdown: 0.09})
	assert.Contains(t, warnings, "approaching max_drawdown_pct")
}

func TestNearLimitSilentWellWithinLimits(t *testing.T) {
	warnings := NearLimit(testAccount(), Snapshot{CurrentDrawdown: 0.01, DailyRealizedLoss: 0.001})
	assert.Empty(t, warnings)
}
