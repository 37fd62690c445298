package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/model"
)

// ErrOrderExists is returned by InsertOrder when an order with the same
// (executor_id, idempotency_key) already exists — the executor's
// redelivery guard (spec §4.7 "Idempotence", §8 S4).
var ErrOrderExists = errors.New("db: order already exists for this executor and signal")

// InsertOrder records a new order. Each executor accepts a given
// signal_id at most once: the unique index on (executor_id,
// idempotency_key) turns a second attempt into ErrOrderExists rather
// than a duplicate row.
func (db *DB) InsertOrder(ctx context.Context, o model.Order) error {
	const query = `
		INSERT INTO orders (
			order_id, executor_id, signal_id, idempotency_key, symbol, side,
			qty, price_reference, status, is_simulated, submitted_at, filled_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now()
		)
	`
	_, err := db.pool.Exec(ctx, query,
		o.OrderID, o.ExecutorID, string(o.SignalID), string(o.IdempotencyKey),
		o.Symbol.Ticker, string(o.Side), o.Qty, o.PriceReference,
		string(o.Status), o.IsSimulated, o.SubmittedAt, o.FilledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrderExists
		}
		log.Error().Err(err).Str("order_id", o.OrderID).Str("executor_id", o.ExecutorID).Msg("failed to insert order")
		return fmt.Errorf("db: InsertOrder: %w", err)
	}
	return nil
}

// GetOrderByIdempotencyKey looks up the order an executor already
// placed for a given signal_id, used to make execute() idempotent
// without relying solely on the unique-index error path.
func (db *DB) GetOrderByIdempotencyKey(ctx context.Context, executorID string, key model.SignalID) (model.Order, error) {
	const query = `
		SELECT order_id, executor_id, signal_id, idempotency_key, symbol, side,
			qty, price_reference, status, is_simulated, submitted_at, filled_at,
			created_at, updated_at
		FROM orders
		WHERE executor_id = $1 AND idempotency_key = $2
	`
	return scanOrderRow(db.pool.QueryRow(ctx, query, executorID, string(key)))
}

// GetOrder fetches a single order by its order_id.
func (db *DB) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	const query = `
		SELECT order_id, executor_id, signal_id, idempotency_key, symbol, side,
			qty, price_reference, status, is_simulated, submitted_at, filled_at,
			created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`
	return scanOrderRow(db.pool.QueryRow(ctx, query, orderID))
}

func scanOrderRow(row pgx.Row) (model.Order, error) {
	var (
		o           model.Order
		symbol      string
		side        string
		status      string
		signalID    string
		idempotency string
	)
	err := row.Scan(
		&o.OrderID, &o.ExecutorID, &signalID, &idempotency, &symbol, &side,
		&o.Qty, &o.PriceReference, &status, &o.IsSimulated, &o.SubmittedAt, &o.FilledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return model.Order{}, fmt.Errorf("db: scan order: %w", err)
	}
	o.Symbol = model.Symbol{Ticker: symbol}
	o.Side = model.OrderSide(side)
	o.Status = model.OrderStatus(status)
	o.SignalID = model.SignalID(signalID)
	o.IdempotencyKey = model.SignalID(idempotency)
	return o, nil
}

// ListOrdersForExecutor returns an executor's orders newest-first, for
// the reconciler's scan of FILLED and SIMULATED orders.
func (db *DB) ListOrdersForExecutor(ctx context.Context, executorID string, statuses []model.OrderStatus, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 200
	}
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	query := `
		SELECT order_id, executor_id, signal_id, idempotency_key, symbol, side,
			qty, price_reference, status, is_simulated, submitted_at, filled_at,
			created_at, updated_at
		FROM orders
		WHERE executor_id = $1
	`
	args := []interface{}{executorID}
	if len(statusStrs) > 0 {
		query += " AND status = ANY($2) ORDER BY submitted_at DESC LIMIT $3"
		args = append(args, statusStrs, limit)
	} else {
		query += " ORDER BY submitted_at DESC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: ListOrdersForExecutor: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o           model.Order
			symbol      string
			side        string
			status      string
			signalID    string
			idempotency string
		)
		if err := rows.Scan(
			&o.OrderID, &o.ExecutorID, &signalID, &idempotency, &symbol, &side,
			&o.Qty, &o.PriceReference, &status, &o.IsSimulated, &o.SubmittedAt, &o.FilledAt,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: scan order row: %w", err)
		}
		o.Symbol = model.Symbol{Ticker: symbol}
		o.Side = model.OrderSide(side)
		o.Status = model.OrderStatus(status)
		o.SignalID = model.SignalID(signalID)
		o.IdempotencyKey = model.SignalID(idempotency)
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus transitions an order's status and, on a fill,
// records FilledAt.
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, filledAt *time.Time) error {
	const query = `
		UPDATE orders
		SET status = $2, filled_at = $3, updated_at = now()
		WHERE order_id = $1
	`
	tag, err := db.pool.Exec(ctx, query, orderID, string(status), filledAt)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to update order status")
		return fmt.Errorf("db: UpdateOrderStatus(%s): %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("db: UpdateOrderStatus: no order with order_id=%s", orderID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
