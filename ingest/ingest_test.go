package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/htbot/gateway/gatewaytest"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/store"
)

func setup(t *testing.T) (*store.Store, market.Contract) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.InsertContract(context.Background(), market.Contract{
		Kind: market.Index, Symbol: "SPX", Exchange: "CBOE", Currency: "USD", Tradeable: true,
	})
	require.NoError(t, err)
	c, err := s.GetContract(context.Background(), id)
	require.NoError(t, err)
	return s, c
}

func seriesBars(start time.Time, n int, barSize int) []market.Bar {
	out := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, market.Bar{
			Time: start.Add(time.Duration(i*barSize) * time.Minute),
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		})
	}
	return out
}

func TestFillGapsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	start := time.Date(2024, 6, 5, 10, 0, 0, 0, market.ExchangeTZ())
	now := start.Add(30 * time.Minute)

	sess := &gatewaytest.Session{Bars: seriesBars(start, 5, 5)}
	f := New(s, zerolog.Nop())
	f.SetClock(func() time.Time { return now })

	staged, open, err := f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Nil(t, open)
	require.Len(t, staged, 5)

	n, err := s.InsertBars(ctx, staged)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Same gateway response again: everything already stored.
	staged, open, err = f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.Empty(t, staged)

	count, err := s.CountBars(ctx, c.ID, 5, market.Trades)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestFillGapsExcludesOpenBar(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	start := time.Date(2024, 6, 5, 10, 0, 0, 0, market.ExchangeTZ())
	// Clock sits two minutes into the fourth bar: three closed, one open.
	now := start.Add(17 * time.Minute)

	sess := &gatewaytest.Session{Bars: seriesBars(start, 4, 5)}
	f := New(s, zerolog.Nop())
	f.SetClock(func() time.Time { return now })

	for cycle := 0; cycle < 3; cycle++ {
		staged, open, err := f.FillGaps(ctx, sess, c, 5, market.Trades)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.True(t, open.Time.Equal(start.Add(15*time.Minute)))

		_, err = s.InsertBars(ctx, staged)
		require.NoError(t, err)
	}

	// The open bar was never persisted no matter how many cycles ran.
	count, err := s.CountBars(ctx, c.ID, 5, market.Trades)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFillGapsEmptyResponse(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	sess := &gatewaytest.Session{}
	f := New(s, zerolog.Nop())

	staged, open, err := f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Nil(t, open)
}

func TestWindowDefaults(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	f := New(s, zerolog.Nop())
	sess := &gatewaytest.Session{}

	// No prior bar on an index: 10 day lookback.
	_, _, err := f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	require.Len(t, sess.BarCalls, 1)
	assert.Equal(t, 10, sess.BarCalls[0].Days)

	// Options get a single day.
	optID, err := s.InsertContract(ctx, market.NewOption(c, time.Date(2024, 6, 5, 0, 0, 0, 0, market.ExchangeTZ()), 5300, market.Put))
	require.NoError(t, err)
	opt, err := s.GetContract(ctx, optID)
	require.NoError(t, err)

	_, _, err = f.FillGaps(ctx, sess, opt, 15, market.Bid)
	require.NoError(t, err)
	require.Len(t, sess.BarCalls, 2)
	assert.Equal(t, 1, sess.BarCalls[1].Days)
}

func TestWindowFromLastBar(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)

	last := time.Date(2024, 6, 5, 10, 0, 0, 0, market.ExchangeTZ())
	_, err := s.InsertBars(ctx, []market.PriceBar{{
		ContractID: c.ID, BarSize: 5, Kind: market.Trades, Time: last,
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
	}})
	require.NoError(t, err)

	f := New(s, zerolog.Nop())
	sess := &gatewaytest.Session{}

	// 10 minutes since the last bar plus one interval: 900 seconds.
	f.SetClock(func() time.Time { return last.Add(10 * time.Minute) })
	_, _, err = f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	require.Len(t, sess.BarCalls, 1)
	assert.Equal(t, 900, sess.BarCalls[0].Seconds)
	assert.Zero(t, sess.BarCalls[0].Days)

	// A 13 hour gap is two 6.5h trading days.
	f.SetClock(func() time.Time { return last.Add(13 * time.Hour) })
	_, _, err = f.FillGaps(ctx, sess, c, 5, market.Trades)
	require.NoError(t, err)
	require.Len(t, sess.BarCalls, 2)
	assert.Zero(t, sess.BarCalls[1].Seconds)
	assert.Equal(t, 3, sess.BarCalls[1].Days)
}
