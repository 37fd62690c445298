package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/fingerprint"
	"github.com/signalpipe/signalpipe/internal/model"
)

// ErrFingerprintMismatch is returned by GetSince/GetSignal when a stored
// row's fingerprint no longer verifies against its immutable fields —
// spec §8 invariant 1, checked on every read, never silently ignored.
var ErrFingerprintMismatch = errors.New("db: stored signal fingerprint does not verify")

// PutSignal inserts s if no row with the same fingerprint already
// exists, and returns the signal_id that ends up stored — either s's
// own, if this call inserted it, or the existing row's, if a prior call
// already had (idempotence per spec §4.4/§8: "put(s) followed by
// put(s') with the same fingerprint returns the same signal_id").
func (db *DB) PutSignal(ctx context.Context, s model.Signal) (model.SignalID, error) {
	if s.Fingerprint == "" {
		s.Fingerprint = fingerprint.Compute(s)
	} else if s.Fingerprint != fingerprint.Compute(s) {
		return "", fmt.Errorf("db: PutSignal: fingerprint does not match computed value for signal_id=%s", s.SignalID)
	}

	contributing, err := json.Marshal(s.ContributingSources)
	if err != nil {
		return "", fmt.Errorf("db: marshal contributing_sources: %w", err)
	}

	const query = `
		INSERT INTO signals (
			signal_id, symbol, symbol_class, action, confidence, entry_price,
			target_price, stop_price, regime, strategy_version, generated_at,
			contributing_sources, fingerprint, calibrated_is_identity,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now()
		)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING signal_id
	`

	var returnedID string
	err = db.pool.QueryRow(ctx, query,
		string(s.SignalID), s.Symbol.Ticker, string(s.Symbol.Class), string(s.Action),
		s.Confidence, s.EntryPrice, s.TargetPrice, s.StopPrice, string(s.Regime),
		s.StrategyVersion, s.GeneratedAt, contributing, s.Fingerprint, s.CalibratedIsIdentity,
	).Scan(&returnedID)

	if err == nil {
		log.Debug().Str("signal_id", returnedID).Str("symbol", s.Symbol.Ticker).Msg("signal inserted")
		return model.SignalID(returnedID), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("db: PutSignal: %w", err)
	}

	// ON CONFLICT DO NOTHING fired: a row with this fingerprint already
	// exists. Look it up so the caller still gets a signal_id back.
	existingID, lookupErr := db.signalIDByFingerprint(ctx, s.Fingerprint)
	if lookupErr != nil {
		return "", fmt.Errorf("db: PutSignal: idempotent lookup after conflict: %w", lookupErr)
	}
	log.Debug().Str("signal_id", string(existingID)).Msg("signal put was idempotent, existing row returned")
	return existingID, nil
}

func (db *DB) signalIDByFingerprint(ctx context.Context, fp string) (model.SignalID, error) {
	var id string
	err := db.pool.QueryRow(ctx, `SELECT signal_id FROM signals WHERE fingerprint = $1`, fp).Scan(&id)
	if err != nil {
		return "", err
	}
	return model.SignalID(id), nil
}

// GetSince returns every signal for symbol with signal_id strictly
// greater than cursor, ordered by signal_id ascending — the Signal
// Distributor's replay primitive for an executor reconnecting after a
// gap (spec §4.6). An empty cursor returns the full history.
func (db *DB) GetSince(ctx context.Context, symbol model.Symbol, cursor model.SignalID, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 500
	}

	const query = `
		SELECT signal_id, symbol, symbol_class, action, confidence, entry_price,
			target_price, stop_price, regime, strategy_version, generated_at,
			contributing_sources, fingerprint, calibrated_is_identity,
			outcome, pnl_pct, order_refs, created_at, updated_at
		FROM signals
		WHERE symbol = $1 AND signal_id > $2
		ORDER BY signal_id ASC
		LIMIT $3
	`

	rows, err := db.pool.Query(ctx, query, symbol.Ticker, string(cursor), limit)
	if err != nil {
		return nil, fmt.Errorf("db: GetSince: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

func scanSignals(rows pgx.Rows) ([]model.Signal, error) {
	var out []model.Signal
	for rows.Next() {
		var (
			s                   model.Signal
			symbolTicker        string
			symbolClass         string
			action              string
			regime              string
			contributingRaw     []byte
			outcome             *string
			orderRefsRaw        []byte
		)

		if err := rows.Scan(
			&s.SignalID, &symbolTicker, &symbolClass, &action, &s.Confidence, &s.EntryPrice,
			&s.TargetPrice, &s.StopPrice, &regime, &s.StrategyVersion, &s.GeneratedAt,
			&contributingRaw, &s.Fingerprint, &s.CalibratedIsIdentity,
			&outcome, &s.PnLPct, &orderRefsRaw, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: scan signal row: %w", err)
		}

		s.Symbol = model.Symbol{Ticker: symbolTicker, Class: model.SymbolClass(symbolClass)}
		s.Action = model.Action(action)
		s.Regime = model.RegimeState(regime)

		if len(contributingRaw) > 0 {
			if err := json.Unmarshal(contributingRaw, &s.ContributingSources); err != nil {
				return nil, fmt.Errorf("db: unmarshal contributing_sources: %w", err)
			}
		}
		if len(orderRefsRaw) > 0 {
			if err := json.Unmarshal(orderRefsRaw, &s.OrderRefs); err != nil {
				return nil, fmt.Errorf("db: unmarshal order_refs: %w", err)
			}
		}
		if outcome != nil {
			o := model.Outcome(*outcome)
			s.Outcome = &o
		}

		if !fingerprint.Verify(s) {
			return nil, fmt.Errorf("%w: signal_id=%s", ErrFingerprintMismatch, s.SignalID)
		}

		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateOutcome is the sole post-insert mutation a Signal permits: it
// sets Outcome, PnLPct, and appends an OrderRef, leaving every other
// field untouched (and therefore leaving the fingerprint, which only
// covers the immutable fields, still valid).
func (db *DB) UpdateOutcome(ctx context.Context, id model.SignalID, outcome model.Outcome, pnlPct *float64, ref *model.OrderRef) error {
	if ref == nil {
		const query = `UPDATE signals SET outcome = $2, pnl_pct = $3, updated_at = now() WHERE signal_id = $1`
		tag, err := db.pool.Exec(ctx, query, string(id), string(outcome), pnlPct)
		if err != nil {
			return fmt.Errorf("db: UpdateOutcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("db: UpdateOutcome: no signal with signal_id=%s", id)
		}
		return nil
	}

	const appendQuery = `
		UPDATE signals
		SET outcome = $2,
		    pnl_pct = $3,
		    order_refs = COALESCE(order_refs, '[]'::jsonb) || $4::jsonb,
		    updated_at = now()
		WHERE signal_id = $1
	`
	refJSON, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("db: marshal order_ref: %w", err)
	}
	tag, err := db.pool.Exec(ctx, appendQuery, string(id), string(outcome), pnlPct, refJSON)
	if err != nil {
		return fmt.Errorf("db: UpdateOutcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: UpdateOutcome: no signal with signal_id=%s", id)
	}
	return nil
}

// AppendOrderRef records that executorID accepted signalID by placing
// orderID, without touching Outcome/PnLPct. Used at order-submission
// time, before the outcome is known.
func (db *DB) AppendOrderRef(ctx context.Context, id model.SignalID, ref model.OrderRef) error {
	refJSON, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("db: marshal order_ref: %w", err)
	}
	const query = `
		UPDATE signals
		SET order_refs = COALESCE(order_refs, '[]'::jsonb) || $2::jsonb,
		    updated_at = now()
		WHERE signal_id = $1
	`
	tag, err := db.pool.Exec(ctx, query, string(id), refJSON)
	if err != nil {
		return fmt.Errorf("db: AppendOrderRef: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: AppendOrderRef: no signal with signal_id=%s", id)
	}
	return nil
}

// GetSignal fetches a single signal by ID and verifies its fingerprint.
func (db *DB) GetSignal(ctx context.Context, id model.SignalID) (model.Signal, error) {
	const query = `
		SELECT signal_id, symbol, symbol_class, action, confidence, entry_price,
			target_price, stop_price, regime, strategy_version, generated_at,
			contributing_sources, fingerprint, calibrated_is_identity,
			outcome, pnl_pct, order_refs, created_at, updated_at
		FROM signals
		WHERE signal_id = $1
	`
	rows, err := db.pool.Query(ctx, query, string(id))
	if err != nil {
		return model.Signal{}, fmt.Errorf("db: GetSignal: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignals(rows)
	if err != nil {
		return model.Signal{}, err
	}
	if len(signals) == 0 {
		return model.Signal{}, fmt.Errorf("db: GetSignal: no signal with signal_id=%s", id)
	}
	return signals[0], nil
}

// ListLatestSignals returns the most recently generated signals across
// every symbol, newest first — the REST API's GET /api/signals/latest,
// a cross-symbol counterpart to GetSince's per-symbol replay cursor.
func (db *DB) ListLatestSignals(ctx context.Context, limit int) ([]model.Signal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT signal_id, symbol, symbol_class, action, confidence, entry_price,
			target_price, stop_price, regime, strategy_version, generated_at,
			contributing_sources, fingerprint, calibrated_is_identity,
			outcome, pnl_pct, order_refs, created_at, updated_at
		FROM signals
		ORDER BY generated_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: ListLatestSignals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// SignalStats is the aggregate count/outcome breakdown served by
// GET /api/signals/stats.
type SignalStats struct {
	Total       int64
	ByAction    map[string]int64
	ByOutcome   map[string]int64
	AvgConfidence float64
}

// SignalStats computes summary counts over every stored signal.
func (db *DB) SignalStats(ctx context.Context) (SignalStats, error) {
	stats := SignalStats{ByAction: map[string]int64{}, ByOutcome: map[string]int64{}}

	const totalsQuery = `SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM signals`
	if err := db.pool.QueryRow(ctx, totalsQuery).Scan(&stats.Total, &stats.AvgConfidence); err != nil {
		return SignalStats{}, fmt.Errorf("db: SignalStats: %w", err)
	}

	const byActionQuery = `SELECT action, COUNT(*) FROM signals GROUP BY action`
	actionRows, err := db.pool.Query(ctx, byActionQuery)
	if err != nil {
		return SignalStats{}, fmt.Errorf("db: SignalStats: by action: %w", err)
	}
	defer actionRows.Close()
	for actionRows.Next() {
		var action string
		var count int64
		if err := actionRows.Scan(&action, &count); err != nil {
			return SignalStats{}, fmt.Errorf("db: SignalStats: scan action: %w", err)
		}
		stats.ByAction[action] = count
	}
	if err := actionRows.Err(); err != nil {
		return SignalStats{}, err
	}

	const byOutcomeQuery = `SELECT outcome, COUNT(*) FROM signals WHERE outcome IS NOT NULL GROUP BY outcome`
	outcomeRows, err := db.pool.Query(ctx, byOutcomeQuery)
	if err != nil {
		return SignalStats{}, fmt.Errorf("db: SignalStats: by outcome: %w", err)
	}
	defer outcomeRows.Close()
	for outcomeRows.Next() {
		var outcome string
		var count int64
		if err := outcomeRows.Scan(&outcome, &count); err != nil {
			return SignalStats{}, fmt.Errorf("db: SignalStats: scan outcome: %w", err)
		}
		stats.ByOutcome[outcome] = count
	}
	return stats, outcomeRows.Err()
}
