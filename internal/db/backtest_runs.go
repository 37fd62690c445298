package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/signalpipe/signalpipe/internal/model"
)

// InsertBacktestRun creates a new run in PENDING status and returns its
// generated run_id.
func (db *DB) InsertBacktestRun(ctx context.Context, r model.BacktestRun) (string, error) {
	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	const query = `
		INSERT INTO backtest_runs (
			run_id, symbol, symbol_class, train_start, train_end, val_start, val_end,
			test_start, test_end, slippage_pct, half_spread_pct, commission_pct,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
	`
	_, err := db.pool.Exec(ctx, query,
		runID, r.Symbol.Ticker, string(r.Symbol.Class),
		r.TrainRange.Start, r.TrainRange.End, r.ValRange.Start, r.ValRange.End,
		r.TestRange.Start, r.TestRange.End,
		r.CostModel.SlippagePct, r.CostModel.HalfSpreadPct, r.CostModel.CommissionPct,
		string(model.BacktestPending),
	)
	if err != nil {
		return "", fmt.Errorf("db: InsertBacktestRun: %w", err)
	}
	return runID, nil
}

// SetBacktestStatus transitions a run's status; COMPLETE additionally
// persists the metrics blob, FAILED persists the error string.
func (db *DB) SetBacktestStatus(ctx context.Context, runID string, status model.BacktestStatus, metrics *model.BacktestMetrics, runErr string) error {
	var metricsJSON []byte
	if metrics != nil {
		var err error
		metricsJSON, err = json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("db: marshal backtest metrics: %w", err)
		}
	}

	const query = `
		UPDATE backtest_runs
		SET status = $2, metrics = $3, error = NULLIF($4, ''), updated_at = now()
		WHERE run_id = $1
	`
	tag, err := db.pool.Exec(ctx, query, runID, string(status), metricsJSON, runErr)
	if err != nil {
		return fmt.Errorf("db: SetBacktestStatus(%s): %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: SetBacktestStatus: no backtest_run with run_id=%s", runID)
	}
	return nil
}

// GetBacktestRun fetches one run by ID.
func (db *DB) GetBacktestRun(ctx context.Context, runID string) (model.BacktestRun, error) {
	const query = `
		SELECT run_id, symbol, symbol_class, train_start, train_end, val_start, val_end,
			test_start, test_end, slippage_pct, half_spread_pct, commission_pct,
			status, metrics, COALESCE(error, ''), created_at, updated_at
		FROM backtest_runs
		WHERE run_id = $1
	`
	var (
		r           model.BacktestRun
		symbolClass string
		status      string
		metricsRaw  []byte
	)
	err := db.pool.QueryRow(ctx, query, runID).Scan(
		&r.RunID, &r.Symbol.Ticker, &symbolClass,
		&r.TrainRange.Start, &r.TrainRange.End, &r.ValRange.Start, &r.ValRange.End,
		&r.TestRange.Start, &r.TestRange.End,
		&r.CostModel.SlippagePct, &r.CostModel.HalfSpreadPct, &r.CostModel.CommissionPct,
		&status, &metricsRaw, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.BacktestRun{}, fmt.Errorf("db: GetBacktestRun(%s): %w", runID, err)
	}
	r.Symbol.Class = model.SymbolClass(symbolClass)
	r.Status = model.BacktestStatus(status)
	if len(metricsRaw) > 0 {
		var m model.BacktestMetrics
		if err := json.Unmarshal(metricsRaw, &m); err != nil {
			return model.BacktestRun{}, fmt.Errorf("db: unmarshal backtest metrics: %w", err)
		}
		r.Metrics = &m
	}
	return r, nil
}
