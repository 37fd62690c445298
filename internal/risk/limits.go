package risk

import (
	"fmt"

	"github.com/signalpipe/signalpipe/internal/model"
)

// Snapshot is the live state the limit evaluator checks an
// ExecutorAccount's configured limits against — shared by the
// synchronous pre-trade gate and the periodic monitor, per spec.md §4.8
// "Both paths share the same limit evaluator."
type Snapshot struct {
	OpenPositions     int
	EquityUSD         float64
	DailyRealizedLoss float64 // positive number, fraction of equity lost today
	CurrentDrawdown   float64 // positive fraction, peak-to-trough
	BrokerUnreadable  bool
}

// Verdict is the limit evaluator's decision plus every violated limit,
// grounded on the teacher's CheckPortfolioLimits violations list.
type Verdict struct {
	Allowed    bool
	Violations []string
}

// Evaluate checks snapshot plus a prospective trade's notional against
// account's configured limits. It never touches the database or the
// broker — both callers (Guard.Allow, Guard.monitorOnce) supply an
// already-fetched Snapshot so the evaluator itself stays pure and testable.
func Evaluate(account model.ExecutorAccount, snap Snapshot, prospectiveNotionalUSD float64) Verdict {
	var violations []string

	if snap.OpenPositions >= account.MaxPositions {
		violations = append(violations, fmt.Sprintf("open positions %d >= max_positions %d", snap.OpenPositions, account.MaxPositions))
	}

	if snap.EquityUSD > 0 {
		positionPct := prospectiveNotionalUSD / snap.EquityUSD
		if positionPct > account.MaxPositionPct {
			violations = append(violations, fmt.Sprintf("position %.4f of equity exceeds max_position_pct %.4f", positionPct, account.MaxPositionPct))
		}
	}

	if snap.DailyRealizedLoss >= account.DailyLossLimitPct {
		violations = append(violations, fmt.Sprintf("daily realized loss %.4f >= daily_loss_limit_pct %.4f", snap.DailyRealizedLoss, account.DailyLossLimitPct))
	}

	if snap.CurrentDrawdown >= account.MaxDrawdownPct {
		violations = append(violations, fmt.Sprintf("drawdown %.4f >= max_drawdown_pct %.4f", snap.CurrentDrawdown, account.MaxDrawdownPct))
	}

	if snap.BrokerUnreadable && account.Kind == model.ExecutorPropFirm {
		violations = append(violations, "broker account state unreadable under strict prop-firm policy")
	}

	return Verdict{Allowed: len(violations) == 0, Violations: violations}
}

// WarningMargin is how close to a limit triggers a warning log from the
// periodic monitor rather than a hard pause, expressed as a fraction of
// the limit's own value (e.g. 0.8 = "within 20% of the limit").
const WarningMargin = 0.8

// NearLimit reports whether snap is within WarningMargin of tripping any
// of account's limits, without yet having crossed it.
func NearLimit(account model.ExecutorAccount, snap Snapshot) []string {
	var warnings []string
	if float64(snap.OpenPositions) >= float64(account.MaxPositions)*WarningMargin && snap.OpenPositions < account.MaxPositions {
		warnings = append(warnings, "approaching max_positions")
	}
	if snap.DailyRealizedLoss >= account.DailyLossLimitPct*WarningMargin && snap.DailyRealizedLoss < account.DailyLossLimitPct {
		warnings = append(warnings, "approaching daily_loss_limit_pct")
	}
	if snap.CurrentDrawdown >= account.MaxDrawdownPct*WarningMargin && snap.CurrentDrawdown < account.MaxDrawdownPct {
		warnings = append(warnings, "approaching max_drawdown_pct")
	}
	return warnings
}
