package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/model"
)

// UpsertPosition opens or updates an executor's position in a symbol.
// Positions are keyed (symbol, executor_id): a repeated fill against an
// already-open position updates qty/avg_cost in place rather than
// inserting a second row.
func (db *DB) UpsertPosition(ctx context.Context, p model.Position) error {
	const query = `
		INSERT INTO positions (symbol, executor_id, side, qty, avg_cost, opened_at, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (symbol, executor_id) DO UPDATE SET
			side = EXCLUDED.side,
			qty = EXCLUDED.qty,
			avg_cost = EXCLUDED.avg_cost,
			closed_at = EXCLUDED.closed_at,
			updated_at = now()
	`
	_, err := db.pool.Exec(ctx, query,
		p.Symbol.Ticker, p.ExecutorID, string(p.Side), p.Qty, p.AvgCost, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol.Ticker).Str("executor_id", p.ExecutorID).Msg("failed to upsert position")
		return fmt.Errorf("db: UpsertPosition: %w", err)
	}
	return nil
}

// ClosePosition marks a position closed, leaving qty/avg_cost as the
// last known values for audit.
func (db *DB) ClosePosition(ctx context.Context, symbol model.Symbol, executorID string) error {
	const query = `UPDATE positions SET closed_at = now(), updated_at = now() WHERE symbol = $1 AND executor_id = $2`
	_, err := db.pool.Exec(ctx, query, symbol.Ticker, executorID)
	if err != nil {
		return fmt.Errorf("db: ClosePosition: %w", err)
	}
	return nil
}

// GetPosition fetches an executor's open position in symbol, if any.
func (db *DB) GetPosition(ctx context.Context, symbol model.Symbol, executorID string) (model.Position, bool, error) {
	const query = `
		SELECT symbol, executor_id, side, qty, avg_cost, opened_at, closed_at, created_at, updated_at
		FROM positions
		WHERE symbol = $1 AND executor_id = $2 AND closed_at IS NULL
	`
	p, err := scanPositionRow(db.pool.QueryRow(ctx, query, symbol.Ticker, executorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Position{}, false, nil
		}
		return model.Position{}, false, err
	}
	return p, true, nil
}

// ListOpenPositions returns every open position for an executor, used
// both by the risk guard's max_positions check and the executor's
// fill-driven position tracker on startup (mirrors the teacher's
// loadOpenPositions in internal/exchange/position_manager.go).
func (db *DB) ListOpenPositions(ctx context.Context, executorID string) ([]model.Position, error) {
	const query = `
		SELECT symbol, executor_id, side, qty, avg_cost, opened_at, closed_at, created_at, updated_at
		FROM positions
		WHERE executor_id = $1 AND closed_at IS NULL
	`
	rows, err := db.pool.Query(ctx, query, executorID)
	if err != nil {
		return nil, fmt.Errorf("db: ListOpenPositions(%s): %w", executorID, err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPositionRow(row pgx.Row) (model.Position, error) {
	var (
		p      model.Position
		symbol string
		side   string
	)
	err := row.Scan(&symbol, &p.ExecutorID, &side, &p.Qty, &p.AvgCost, &p.OpenedAt, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Position{}, err
	}
	p.Symbol = model.Symbol{Ticker: symbol}
	p.Side = model.PositionSide(side)
	return p, nil
}
