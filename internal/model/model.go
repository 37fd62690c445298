// Package model holds the shared domain types that flow between the
// consensus engine, the signal store, the distributor, and the executors.
// Nothing in this package touches a database or a network socket.
package model

import "time"

// SymbolClass governs market-hours eligibility and which adapters are
// active for a given Symbol.
type SymbolClass string

const (
	SymbolStock  SymbolClass = "STOCK"
	SymbolCrypto SymbolClass = "CRYPTO"
)

// Symbol is an opaque uppercase identifier, e.g. "AAPL", "BTC-USD".
type Symbol struct {
	Ticker string
	Class  SymbolClass
}

func (s Symbol) String() string { return s.Ticker }

// Direction is the directional opinion of a single source, or the
// resolved action of a Signal once NEUTRAL has been ruled out.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Action is the directional verb a Signal carries once emitted. NEUTRAL
// is never stored — see Signal's invariants.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Validity describes whether a SourceOpinion can be trusted this cycle.
type Validity string

const (
	ValidityOK          Validity = "OK"
	ValidityStale       Validity = "STALE"
	ValidityUnavailable Validity = "UNAVAILABLE"
)

// SourceOpinion is one adapter's view of one symbol for a single
// aggregation cycle. Its Indicators bag is opaque diagnostic payload —
// the consensus engine must never branch on its contents.
type SourceOpinion struct {
	SourceID    string
	Symbol      Symbol
	ProducedAt  time.Time
	Direction   Direction
	Confidence  float64
	Indicators  map[string]any
	Validity    Validity
}

// RegimeState is the coarse market-state classification used to bias
// stops, targets, and consensus tie-breaks.
type RegimeState string

const (
	RegimeBull   RegimeState = "BULL"
	RegimeBear   RegimeState = "BEAR"
	RegimeChop   RegimeState = "CHOP"
	RegimeCrisis RegimeState = "CRISIS"
)

// Regime is a symbol's current market-state classification, updated at
// most once per cycle by the Regime Detector.
type Regime struct {
	Symbol         Symbol
	State          RegimeState
	Strength       float64
	ClassifiedAt   time.Time
	ConsecutiveBar int // consecutive qualifying bars supporting State, for flap prevention
}

// ContributingSource records one source's input to a Signal, for audit
// and for the calibrator's training set.
type ContributingSource struct {
	SourceID   string    `json:"source_id"`
	Direction  Direction `json:"direction"`
	Weight     float64   `json:"weight"`
	Confidence float64   `json:"confidence"`
}

// Outcome is the realized result of a Signal once its associated
// position (across all executors that accepted it) has closed.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeExpired Outcome = "EXPIRED"
)

// SignalID is a monotonic, time-ordered, globally unique identifier.
// See fingerprint.NewSignalID.
type SignalID string

// Signal is the system-of-record entity persisted by the Unified Signal
// Store. Once stored it is immutable except for Outcome, PnLPct, and
// OrderRefs, which are the only fields update_outcome may touch.
type Signal struct {
	SignalID             SignalID
	Symbol               Symbol
	Action               Action
	Confidence           float64 // calibrated, never the raw score
	EntryPrice           float64
	TargetPrice          *float64
	StopPrice            *float64
	Regime               RegimeState
	StrategyVersion      string
	GeneratedAt          time.Time
	ContributingSources  []ContributingSource
	Fingerprint          string // 64-char lowercase hex SHA-256 over the immutable fields
	CalibratedIsIdentity bool   // true if no calibrator had been fitted when this was produced

	Outcome  *Outcome
	PnLPct   *float64
	OrderRefs []OrderRef

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderRef links a Signal to the Order an executor placed in response to
// it, one per executor that accepted the signal.
type OrderRef struct {
	ExecutorID string `json:"executor_id"`
	OrderID    string `json:"order_id"`
}

// ExecutorKind distinguishes the two account identities the system
// drives: a normal brokerage account and a proprietary-firm evaluation
// account with stricter drawdown discipline.
type ExecutorKind string

const (
	ExecutorStandard ExecutorKind = "STANDARD"
	ExecutorPropFirm ExecutorKind = "PROP_FIRM"
)

// SellPolicy resolves the "SELL signal with no open long position"
// ambiguity per executor kind: a standard brokerage account by default
// treats it as a no-op, a prop-firm account by default opens a short.
type SellPolicy string

const (
	SellNoOp      SellPolicy = "SELL_NO_OP"
	SellOpenShort SellPolicy = "SELL_OPENS_SHORT"
)

// ExecutorAccount is the configuration and live-mutable state of one
// executor identity. Paused is written only by the risk guard's
// periodic path and by explicit operator action.
type ExecutorAccount struct {
	ExecutorID          string
	Kind                ExecutorKind
	BrokerCredentialsRef string
	MinConfidence       float64
	MaxPositions        int
	MaxPositionPct      float64
	DailyLossLimitPct   float64
	MaxDrawdownPct      float64
	Paused              bool
	SymbolAllowlist     []string
	Policy              SellPolicy

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PositionSide mirrors the directional sense of an open Position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is an executor's open exposure in one symbol. Opened on
// order fill, closed on exit; owned exclusively by its executor.
type Position struct {
	Symbol     Symbol
	ExecutorID string
	Side       PositionSide
	Qty        float64
	AvgCost    float64
	OpenedAt   time.Time
	ClosedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderSide is BUY or SELL at the broker-order level (distinct from
// Action, which is the Signal's directional verb).
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderSimulated OrderStatus = "SIMULATED"
)

// SimulatedOrderPrefix marks an Order that was never forwarded to the
// broker (simulation fallback per spec §4.7); it is a reserved prefix
// on OrderID, checked case-sensitively.
const SimulatedOrderPrefix = "SIM_"

// Order is one executor's response to a Signal. IdempotencyKey equals
// SignalID, enforced as a unique index so a redelivered signal never
// produces a second order for the same executor.
type Order struct {
	OrderID        string
	ExecutorID     string
	SignalID       SignalID
	IdempotencyKey SignalID
	Symbol         Symbol
	Side           OrderSide
	Qty            float64
	PriceReference float64
	Status         OrderStatus
	IsSimulated    bool
	SubmittedAt    time.Time
	FilledAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BacktestStatus is the lifecycle state of a BacktestRun.
type BacktestStatus string

const (
	BacktestPending  BacktestStatus = "PENDING"
	BacktestRunning  BacktestStatus = "RUNNING"
	BacktestComplete BacktestStatus = "COMPLETE"
	BacktestFailed   BacktestStatus = "FAILED"
)

// DateRange is a half-open [Start, End) time window over historical bars.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// CostModel is the transaction-cost assumption a backtest run was
// replayed under.
type CostModel struct {
	SlippagePct    float64
	HalfSpreadPct  float64
	CommissionPct  float64
}

// BacktestMetrics is the full performance + calibration summary
// produced at the end of a backtest run, persisted as JSONB on
// BacktestRun.Metrics.
type BacktestMetrics struct {
	WinRate            float64            `json:"win_rate"`
	AvgReturnPerTrade  float64            `json:"avg_return_per_trade"`
	SharpeRatio        float64            `json:"sharpe_ratio"`
	MaxDrawdownPct     float64            `json:"max_drawdown_pct"`
	ProfitFactor       float64            `json:"profit_factor"`
	TotalTrades        int                `json:"total_trades"`
	CalibrationBuckets []ReliabilityBucket `json:"calibration_buckets"`
}

// ReliabilityBucket is one bin of a calibration reliability curve:
// among signals whose calibrated confidence fell in this bucket, what
// fraction actually won.
type ReliabilityBucket struct {
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`
	SampleCount    int     `json:"sample_count"`
	WinRate        float64 `json:"win_rate"`
}

// BacktestRun is the persisted record of one backtest replay.
type BacktestRun struct {
	RunID     string
	Symbol    Symbol
	TrainRange DateRange
	ValRange   DateRange
	TestRange  DateRange
	CostModel  CostModel
	Status     BacktestStatus
	Metrics    *BacktestMetrics
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
}
