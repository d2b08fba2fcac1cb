// Package ingest fills gaps in stored bar series from the gateway's
// historical data, without ever persisting the still-open bar.
package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/store"
)

// tradingDayHours converts elapsed wall time to the gateway's trading-day
// duration unit (a 6.5 hour session).
const tradingDayHours = 6.5

// Filler stages missing bars for a series. It never commits; the caller owns
// the transaction so a failed cycle leaves the store untouched.
type Filler struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New builds a Filler on the given store.
func New(s *store.Store, log zerolog.Logger) *Filler {
	return &Filler{store: s, log: log, now: market.Now}
}

// SetClock pins the filler's clock for tests.
func (f *Filler) SetClock(now func() time.Time) {
	f.now = now
}

// FillGaps fetches the bars missing since the last stored bar of the
// (contract, barSize, kind) series and returns them staged for insert,
// together with the current open bar when the gateway returned one.
//
// A bar whose close time (bar time + one bar interval) is still in the
// future in exchange time is the open bar: it is returned separately and
// never staged. Bars already stored are skipped silently.
func (f *Filler) FillGaps(ctx context.Context, sess gateway.Session, c market.Contract, barSize int, kind market.BarKind) ([]market.PriceBar, *market.Bar, error) {
	dur, err := f.window(ctx, c, barSize, kind)
	if err != nil {
		return nil, nil, err
	}

	bars, err := sess.HistoricalBars(ctx, c, dur, barSize, kind, false)
	if err != nil {
		return nil, nil, fmt.Errorf("fill gaps %s %d %s: %w", c.Describe(), barSize, kind, err)
	}

	now := f.now().In(market.ExchangeTZ())
	interval := time.Duration(barSize) * time.Minute

	var staged []market.PriceBar
	var openBar *market.Bar

	for _, bar := range bars {
		if bar.Time.Add(interval).After(now) {
			b := bar
			openBar = &b
			continue
		}

		exists, err := f.store.BarExists(ctx, c.ID, barSize, kind, bar.Time)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			// Duplicate bars are expected on overlapping windows.
			continue
		}

		staged = append(staged, market.PriceBar{
			ContractID: c.ID,
			BarSize:    barSize,
			Kind:       kind,
			Time:       bar.Time,
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
		})
	}

	f.log.Debug().
		Str("contract", c.Describe()).
		Str("kind", string(kind)).
		Int("staged", len(staged)).
		Bool("open_bar", openBar != nil).
		Msg("gap fill")

	return staged, openBar, nil
}

// window computes the historical request duration: the elapsed time since
// the last stored bar plus one bar interval, in seconds under an hour and in
// trading days above; with no prior bar, the default lookback per variant.
func (f *Filler) window(ctx context.Context, c market.Contract, barSize int, kind market.BarKind) (gateway.Duration, error) {
	last, ok, err := f.store.LastBar(ctx, c.ID, barSize, kind)
	if err != nil {
		return gateway.Duration{}, err
	}

	if !ok {
		if c.IsOption() {
			return gateway.Duration{Days: 1}, nil
		}
		return gateway.Duration{Days: 10}, nil
	}

	elapsed := f.now().Sub(last.Time) + time.Duration(barSize)*time.Minute
	secs := elapsed.Seconds()
	if secs < 3600 {
		return gateway.Duration{Seconds: int(math.Ceil(secs))}, nil
	}
	return gateway.Duration{Days: int(math.Ceil(secs / 3600 / tradingDayHours))}, nil
}
