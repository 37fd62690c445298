package db

import (
	"context"
	"fmt"
)

// ListResolvedPnLPctForExecutor returns the pnl_pct of every WIN/LOSS
// signal that produced at least one order for executorID, oldest first,
// capped at limit — the input series internal/risk.Calculator replays
// into an equity curve for drawdown/Sharpe/VaR.
func (db *DB) ListResolvedPnLPctForExecutor(ctx context.Context, executorID string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `
		SELECT s.pnl_pct
		FROM signals s
		JOIN orders o ON o.signal_id = s.signal_id
		WHERE o.executor_id = $1 AND s.outcome IN ('WIN', 'LOSS') AND s.pnl_pct IS NOT NULL
		ORDER BY s.generated_at ASC
		LIMIT $2
	`
	rows, err := db.pool.Query(ctx, query, executorID, limit)
	if err != nil {
		return nil, fmt.Errorf("db: ListResolvedPnLPctForExecutor: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var pct float64
		if err := rows.Scan(&pct); err != nil {
			return nil, fmt.Errorf("db: scan pnl_pct: %w", err)
		}
		out = append(out, pct)
	}
	return out, rows.Err()
}

// CountResolvedOutcomesForExecutor returns (won, lost) counts of
// resolved signals attributed to executorID.
func (db *DB) CountResolvedOutcomesForExecutor(ctx context.Context, executorID string) (won, lost int64, err error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE s.outcome = 'WIN'),
			COUNT(*) FILTER (WHERE s.outcome = 'LOSS')
		FROM signals s
		JOIN orders o ON o.signal_id = s.signal_id
		WHERE o.executor_id = $1
	`
	err = db.pool.QueryRow(ctx, query, executorID).Scan(&won, &lost)
	if err != nil {
		return 0, 0, fmt.Errorf("db: CountResolvedOutcomesForExecutor: %w", err)
	}
	return won, lost, nil
}
