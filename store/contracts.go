package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rustyeddy/htbot/market"
)

// ErrNotFound is returned for missing rows. A missing contract row during a
// decision cycle is a data-integrity failure, not a retryable condition.
var ErrNotFound = sql.ErrNoRows

const contractCols = `id, contract_type, symbol, exchange, currency, con_id, to_trade, expiry, strike, right, underlying_id`

func scanContract(row interface{ Scan(...any) error }) (market.Contract, error) {
	var c market.Contract
	var exchange, right sql.NullString
	var conID, underlyingID sql.NullInt64
	var expiry sql.NullTime
	var strike sql.NullFloat64

	err := row.Scan(&c.ID, &c.Kind, &c.Symbol, &exchange, &c.Currency, &conID, &c.Tradeable, &expiry, &strike, &right, &underlyingID)
	if err != nil {
		return market.Contract{}, err
	}

	c.Exchange = exchange.String
	c.ConID = conID.Int64
	if expiry.Valid {
		c.Expiry = expiry.Time.In(market.ExchangeTZ())
	}
	c.Strike = strike.Float64
	c.Right = market.Right(right.String)
	c.UnderlyingID = underlyingID.Int64
	return c, nil
}

// GetContract loads one contract by id.
func (s *Store) GetContract(ctx context.Context, id int64) (market.Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return market.Contract{}, fmt.Errorf("contract %d not found: %w", id, ErrNotFound)
	}
	return c, err
}

// GetContractBySymbol loads a contract by symbol and variant.
func (s *Store) GetContractBySymbol(ctx context.Context, symbol string, kind market.ContractKind) (market.Contract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractCols+` FROM contracts WHERE symbol = ? AND contract_type = ?`, symbol, kind)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return market.Contract{}, fmt.Errorf("contract %s/%s not found: %w", symbol, kind, ErrNotFound)
	}
	return c, err
}

// InsertContract creates a contract row and returns its id.
func (s *Store) InsertContract(ctx context.Context, c market.Contract) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertContract(ctx, tx, c)
		return err
	})
	return id, err
}

func insertContract(ctx context.Context, tx *sql.Tx, c market.Contract) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO contracts
		(contract_type, symbol, exchange, currency, con_id, to_trade, expiry, strike, right, underlying_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Kind, c.Symbol, nullStr(c.Exchange), c.Currency, nullInt(c.ConID), c.Tradeable,
		nullTime(c.Expiry), nullFloat(c.Strike), nullStr(string(c.Right)), nullInt(c.UnderlyingID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert contract %s: %w", c.Symbol, err)
	}
	return res.LastInsertId()
}

// InsertOptions creates the option chain rows in one transaction and returns
// them with ids assigned.
func (s *Store) InsertOptions(ctx context.Context, opts []market.Contract) ([]market.Contract, error) {
	out := make([]market.Contract, 0, len(opts))
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, o := range opts {
			id, err := insertContract(ctx, tx, o)
			if err != nil {
				return err
			}
			o.ID = id
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListOptions returns the stored option chain for one underlying and expiry.
func (s *Store) ListOptions(ctx context.Context, underlyingID int64, expiry time.Time) ([]market.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contractCols+` FROM contracts
		WHERE contract_type = ? AND underlying_id = ? AND expiry = ?
		ORDER BY strike ASC`, market.Option, underlyingID, expiry.UTC())
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var out []market.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConID records the broker-qualified identifier after qualification.
func (s *Store) SetConID(ctx context.Context, id, conID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET con_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conID, id)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
