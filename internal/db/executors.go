package db

import (
	"context"
	"fmt"

	"github.com/signalpipe/signalpipe/internal/model"
)

// GetExecutorAccount loads one executor's configuration and live state.
func (db *DB) GetExecutorAccount(ctx context.Context, executorID string) (model.ExecutorAccount, error) {
	const query = `
		SELECT executor_id, kind, broker_credentials_ref, min_confidence,
			max_positions, max_position_pct, daily_loss_limit_pct, max_drawdown_pct,
			paused, symbol_allowlist, policy, created_at, updated_at
		FROM executor_accounts
		WHERE executor_id = $1
	`
	var (
		a    model.ExecutorAccount
		kind string
		pol  string
	)
	err := db.pool.QueryRow(ctx, query, executorID).Scan(
		&a.ExecutorID, &kind, &a.BrokerCredentialsRef, &a.MinConfidence,
		&a.MaxPositions, &a.MaxPositionPct, &a.DailyLossLimitPct, &a.MaxDrawdownPct,
		&a.Paused, &a.SymbolAllowlist, &pol, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.ExecutorAccount{}, fmt.Errorf("db: GetExecutorAccount(%s): %w", executorID, err)
	}
	a.Kind = model.ExecutorKind(kind)
	a.Policy = model.SellPolicy(pol)
	return a, nil
}

// ListExecutorAccounts returns every configured executor, for the
// distributor's fan-out roster and the risk guard's periodic sweep.
func (db *DB) ListExecutorAccounts(ctx context.Context) ([]model.ExecutorAccount, error) {
	const query = `
		SELECT executor_id, kind, broker_credentials_ref, min_confidence,
			max_positions, max_position_pct, daily_loss_limit_pct, max_drawdown_pct,
			paused, symbol_allowlist, policy, created_at, updated_at
		FROM executor_accounts
		ORDER BY executor_id
	`
	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db: ListExecutorAccounts: %w", err)
	}
	defer rows.Close()

	var out []model.ExecutorAccount
	for rows.Next() {
		var (
			a    model.ExecutorAccount
			kind string
			pol  string
		)
		if err := rows.Scan(
			&a.ExecutorID, &kind, &a.BrokerCredentialsRef, &a.MinConfidence,
			&a.MaxPositions, &a.MaxPositionPct, &a.DailyLossLimitPct, &a.MaxDrawdownPct,
			&a.Paused, &a.SymbolAllowlist, &pol, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: ListExecutorAccounts: scan: %w", err)
		}
		a.Kind = model.ExecutorKind(kind)
		a.Policy = model.SellPolicy(pol)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: ListExecutorAccounts: %w", err)
	}
	return out, nil
}

// SetPaused is the sole mutation path for ExecutorAccount.Paused, per
// spec §3 "paused is mutated only by the risk guard and by the
// operator" — there is exactly one place that ever writes the column.
// Its only caller is the risk guard's periodic path; no API handler
// calls it.
func (db *DB) SetPaused(ctx context.Context, executorID string, paused bool) error {
	const query = `UPDATE executor_accounts SET paused = $2, updated_at = now() WHERE executor_id = $1`
	tag, err := db.pool.Exec(ctx, query, executorID, paused)
	if err != nil {
		return fmt.Errorf("db: SetPaused(%s): %w", executorID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: SetPaused: no executor_account with executor_id=%s", executorID)
	}
	return nil
}

// UpsertExecutorAccount inserts or fully replaces an executor's static
// configuration fields; it never touches Paused. Neither cmd/migrate nor
// any API handler calls it.
func (db *DB) UpsertExecutorAccount(ctx context.Context, a model.ExecutorAccount) error {
	const query = `
		INSERT INTO executor_accounts (
			executor_id, kind, broker_credentials_ref, min_confidence,
			max_positions, max_position_pct, daily_loss_limit_pct, max_drawdown_pct,
			symbol_allowlist, policy, paused, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, now(), now())
		ON CONFLICT (executor_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			broker_credentials_ref = EXCLUDED.broker_credentials_ref,
			min_confidence = EXCLUDED.min_confidence,
			max_positions = EXCLUDED.max_positions,
			max_position_pct = EXCLUDED.max_position_pct,
			daily_loss_limit_pct = EXCLUDED.daily_loss_limit_pct,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			symbol_allowlist = EXCLUDED.symbol_allowlist,
			policy = EXCLUDED.policy,
			updated_at = now()
	`
	_, err := db.pool.Exec(ctx, query,
		a.ExecutorID, string(a.Kind), a.BrokerCredentialsRef, a.MinConfidence,
		a.MaxPositions, a.MaxPositionPct, a.DailyLossLimitPct, a.MaxDrawdownPct,
		a.SymbolAllowlist, string(a.Policy),
	)
	if err != nil {
		return fmt.Errorf("db: UpsertExecutorAccount(%s): %w", a.ExecutorID, err)
	}
	return nil
}

// GetCursor returns the last signal_id the distributor acknowledged
// delivering to executorID, or "" if none has been recorded yet.
func (db *DB) GetCursor(ctx context.Context, executorID string) (model.SignalID, error) {
	var cursor *string
	err := db.pool.QueryRow(ctx,
		`SELECT last_delivered_signal_id FROM executor_cursors WHERE executor_id = $1`,
		executorID,
	).Scan(&cursor)
	if err != nil {
		return "", nil // no cursor row yet: caller should treat this as "replay from the beginning"
	}
	if cursor == nil {
		return "", nil
	}
	return model.SignalID(*cursor), nil
}

// SetCursor persists the distributor's per-executor delivery cursor.
// The Redis cache in internal/distributor is a read-through
// accelerator in front of this — Postgres is the durable source of
// truth replayed from on distributor restart.
func (db *DB) SetCursor(ctx context.Context, executorID string, cursor model.SignalID) error {
	const query = `
		INSERT INTO executor_cursors (executor_id, last_delivered_signal_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (executor_id) DO UPDATE SET
			last_delivered_signal_id = EXCLUDED.last_delivered_signal_id,
			updated_at = now()
	`
	_, err := db.pool.Exec(ctx, query, executorID, string(cursor))
	if err != nil {
		return fmt.Errorf("db: SetCursor(%s): %w", executorID, err)
	}
	return nil
}
