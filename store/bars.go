package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rustyeddy/htbot/market"
)

const barCols = `id, contract_id, bar_size, data_kind, ts, open, high, low, close, volume, trend, rsi_ema`

func scanBar(row interface{ Scan(...any) error }) (market.PriceBar, error) {
	var b market.PriceBar
	var trend sql.NullInt64
	var ema sql.NullFloat64

	err := row.Scan(&b.ID, &b.ContractID, &b.BarSize, &b.Kind, &b.Time,
		&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &trend, &ema)
	if err != nil {
		return market.PriceBar{}, err
	}

	b.Time = b.Time.In(market.ExchangeTZ())
	if trend.Valid {
		v := int(trend.Int64)
		b.Trend = &v
	}
	if ema.Valid {
		v := ema.Float64
		b.RSIEMA = &v
	}
	return b, nil
}

// LastBar returns the most recent stored bar of the series, if any.
func (s *Store) LastBar(ctx context.Context, contractID int64, barSize int, kind market.BarKind) (market.PriceBar, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+barCols+` FROM price_bars
		WHERE contract_id = ? AND bar_size = ? AND data_kind = ?
		ORDER BY ts DESC LIMIT 1`, contractID, barSize, kind)

	b, err := scanBar(row)
	if err == sql.ErrNoRows {
		return market.PriceBar{}, false, nil
	}
	if err != nil {
		return market.PriceBar{}, false, fmt.Errorf("last bar: %w", err)
	}
	return b, true, nil
}

// BarExists reports whether the series already holds a bar at ts.
func (s *Store) BarExists(ctx context.Context, contractID int64, barSize int, kind market.BarKind, ts time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM price_bars
		WHERE contract_id = ? AND bar_size = ? AND data_kind = ? AND ts = ?`,
		contractID, barSize, kind, ts.UTC()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bar exists: %w", err)
	}
	return true, nil
}

// InsertBars commits a staged batch in one transaction. Duplicate timestamps
// are skipped by the unique index rather than failing the batch; the return
// value counts rows actually inserted.
func (s *Store) InsertBars(ctx context.Context, bars []market.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO price_bars
			(contract_id, bar_size, data_kind, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			res, err := stmt.ExecContext(ctx, b.ContractID, b.BarSize, b.Kind, b.Time.UTC(),
				b.Open, b.High, b.Low, b.Close, b.Volume)
			if err != nil {
				return fmt.Errorf("insert bar %s: %w", b.Time, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// ListBars returns the full closed-bar history of the series, oldest first.
func (s *Store) ListBars(ctx context.Context, contractID int64, barSize int, kind market.BarKind) ([]market.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+barCols+` FROM price_bars
		WHERE contract_id = ? AND bar_size = ? AND data_kind = ?
		ORDER BY ts ASC`, contractID, barSize, kind)
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}
	defer rows.Close()

	var out []market.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountBars returns the number of stored bars in the series.
func (s *Store) CountBars(ctx context.Context, contractID int64, barSize int, kind market.BarKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_bars
		WHERE contract_id = ? AND bar_size = ? AND data_kind = ?`,
		contractID, barSize, kind).Scan(&n)
	return n, err
}

// DayHighLow scans the session's bars for the day extremes.
func (s *Store) DayHighLow(ctx context.Context, contractID int64, barSize int, kind market.BarKind, start, end time.Time) (high, low float64, ok bool, err error) {
	var h, l sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(high), MIN(low) FROM price_bars
		WHERE contract_id = ? AND bar_size = ? AND data_kind = ? AND ts >= ? AND ts < ?`,
		contractID, barSize, kind, start.UTC(), end.UTC()).Scan(&h, &l)
	if err != nil {
		return 0, 0, false, fmt.Errorf("day high/low: %w", err)
	}
	if !h.Valid || !l.Valid {
		return 0, 0, false, nil
	}
	return h.Float64, l.Float64, true, nil
}

// UpdateTrend attaches the computed trend flag and smoothed value to bar
// rows in bulk; rows is keyed by bar id.
func (s *Store) UpdateTrend(ctx context.Context, rows map[int64]TrendUpdate) error {
	if len(rows) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE price_bars SET trend = ?, rsi_ema = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for id, u := range rows {
			if _, err := stmt.ExecContext(ctx, u.Trend, u.RSIEMA, id); err != nil {
				return fmt.Errorf("update trend for bar %d: %w", id, err)
			}
		}
		return nil
	})
}

// TrendUpdate is one indicator write-back.
type TrendUpdate struct {
	Trend  int
	RSIEMA float64
}
