package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rustyeddy/htbot/market"
)

const orderCols = `id, contract_id, direction, side, size, price, exit_price, bid_at_entry, ask_at_entry, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (market.Order, error) {
	var o market.Order
	var exit sql.NullFloat64
	var status sql.NullString

	err := row.Scan(&o.ID, &o.ContractID, &o.Direction, &o.Side, &o.Size, &o.Price,
		&exit, &o.BidAtEntry, &o.AskAtEntry, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return market.Order{}, err
	}

	if exit.Valid {
		v := exit.Float64
		o.ExitPrice = &v
	}
	o.Status = status.String
	return o, nil
}

// InsertOrder creates the entry leg row and returns its id.
func (s *Store) InsertOrder(ctx context.Context, o market.Order) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders
			(contract_id, direction, side, size, price, bid_at_entry, ask_at_entry, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ContractID, o.Direction, o.Side, o.Size, o.Price, o.BidAtEntry, o.AskAtEntry, o.Status)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetOrder loads one order row.
func (s *Store) GetOrder(ctx context.Context, id int64) (market.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return market.Order{}, fmt.Errorf("order %d not found: %w", id, ErrNotFound)
	}
	return o, err
}

// SetOrderExit records the exit price exactly once; direction and size are
// never touched after entry.
func (s *Store) SetOrderExit(ctx context.Context, id int64, exitPrice float64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET exit_price = ?, status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND exit_price IS NULL`,
			exitPrice, market.StatusFilled, id)
		if err != nil {
			return fmt.Errorf("set order exit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("order %d already exited or missing", id)
		}
		return nil
	})
}

// OpenOrders lists legs that have not been exited yet.
func (s *Store) OpenOrders(ctx context.Context) ([]market.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE exit_price IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	defer rows.Close()

	var out []market.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
