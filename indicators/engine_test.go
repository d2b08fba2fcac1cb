package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/store"
)

func TestRSISeriesWarmup(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	rsi := RSISeries(closes, 4)

	for i := 0; i < 4; i++ {
		assert.True(t, math.IsNaN(rsi[i]), "index %d must be undefined", i)
	}
	// Monotonically rising closes: all gain, no loss.
	assert.Equal(t, 100.0, rsi[4])
	assert.Equal(t, 100.0, rsi[5])
}

func TestRSISeriesMixed(t *testing.T) {
	// Deltas over the window at index 4: +2, -1, +2, -1.
	closes := []float64{10, 12, 11, 13, 12}
	rsi := RSISeries(closes, 4)

	// avg gain 1.0, avg loss 0.5, RS 2, RSI 100-100/3.
	assert.InDelta(t, 100-100.0/3, rsi[4], 1e-9)
}

func TestRSISeriesFlat(t *testing.T) {
	closes := []float64{5, 5, 5, 5, 5}
	rsi := RSISeries(closes, 3)
	for i, v := range rsi {
		assert.True(t, math.IsNaN(v), "flat series index %d", i)
	}
}

func TestRSISeriesShort(t *testing.T) {
	rsi := RSISeries([]float64{1, 2, 3}, 10)
	for _, v := range rsi {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMASeriesSeedsAtFirstValue(t *testing.T) {
	in := []float64{math.NaN(), math.NaN(), 50, 60}
	out := EMASeries(in, 3) // alpha = 0.5

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, 50.0, out[2])
	assert.InDelta(t, 55.0, out[3], 1e-9)
}

func TestEMASeriesDeterministic(t *testing.T) {
	in := []float64{40, 55, 48, 62, 51, 47, 58}
	a := EMASeries(in, 5)
	b := EMASeries(in, 5)
	assert.Equal(t, a, b)
}

func engineFixture(t *testing.T, window, span int) (*Engine, *store.Store, *coord.Memory, market.Contract) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cache := coord.NewMemory()
	id, err := s.InsertContract(context.Background(), market.Contract{
		Kind: market.Index, Symbol: "SPX", Exchange: "CBOE", Currency: "USD", Tradeable: true,
	})
	require.NoError(t, err)
	c, err := s.GetContract(context.Background(), id)
	require.NoError(t, err)

	e := NewEngine(s, cache, window, span, 45, 20*time.Minute, zerolog.Nop())
	return e, s, cache, c
}

func insertCloses(t *testing.T, s *store.Store, c market.Contract, start time.Time, closes []float64) {
	t.Helper()
	bars := make([]market.PriceBar, 0, len(closes))
	for i, px := range closes {
		bars = append(bars, market.PriceBar{
			ContractID: c.ID, BarSize: 5, Kind: market.Trades,
			Time: start.Add(time.Duration(i*5) * time.Minute),
			Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10,
		})
	}
	_, err := s.InsertBars(context.Background(), bars)
	require.NoError(t, err)
}

func TestRecomputePublishesTrend(t *testing.T) {
	ctx := context.Background()
	e, s, cache, c := engineFixture(t, 4, 3)

	start := time.Date(2024, 6, 5, 9, 30, 0, 0, market.ExchangeTZ())
	// Rising closes keep the smoothed RSI pinned at 100, above threshold.
	insertCloses(t, s, c, start, []float64{100, 101, 102, 103, 104, 105, 106})

	trend, ema, err := e.Recompute(ctx, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Equal(t, 1, trend)
	assert.Equal(t, 100.0, ema)

	got, err := coord.GetFloat(ctx, cache, coord.IndicatorKey("SPX", market.Trades, "trend"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = coord.GetFloat(ctx, cache, coord.IndicatorKey("SPX", market.Trades, "rsi_ema"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	// Values land on the bar rows past the warmup.
	bars, err := s.ListBars(ctx, c.ID, 5, market.Trades)
	require.NoError(t, err)
	assert.Nil(t, bars[0].Trend)
	require.NotNil(t, bars[len(bars)-1].Trend)
	assert.Equal(t, 1, *bars[len(bars)-1].Trend)
	require.NotNil(t, bars[len(bars)-1].RSIEMA)
}

func TestRecomputeTrendOff(t *testing.T) {
	ctx := context.Background()
	e, s, cache, c := engineFixture(t, 4, 3)

	start := time.Date(2024, 6, 5, 9, 30, 0, 0, market.ExchangeTZ())
	// Falling closes drive the smoothed RSI to 0, below threshold.
	insertCloses(t, s, c, start, []float64{106, 105, 104, 103, 102, 101, 100})

	trend, ema, err := e.Recompute(ctx, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Equal(t, 0, trend)
	assert.Equal(t, 0.0, ema)

	got, err := coord.GetFloat(ctx, cache, coord.IndicatorKey("SPX", market.Trades, "trend"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestRecomputeInsufficientHistory(t *testing.T) {
	ctx := context.Background()
	e, s, _, c := engineFixture(t, 60, 144)

	start := time.Date(2024, 6, 5, 9, 30, 0, 0, market.ExchangeTZ())
	insertCloses(t, s, c, start, []float64{100, 101, 102})

	_, _, err := e.Recompute(ctx, c, 5, market.Trades)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestRecomputeDeterministic(t *testing.T) {
	ctx := context.Background()
	e, s, _, c := engineFixture(t, 4, 3)

	start := time.Date(2024, 6, 5, 9, 30, 0, 0, market.ExchangeTZ())
	insertCloses(t, s, c, start, []float64{100, 103, 101, 105, 102, 104, 103, 106})

	_, ema1, err := e.Recompute(ctx, c, 5, market.Trades)
	require.NoError(t, err)
	_, ema2, err := e.Recompute(ctx, c, 5, market.Trades)
	require.NoError(t, err)
	assert.Equal(t, ema1, ema2)
}

func TestDayExtremes(t *testing.T) {
	ctx := context.Background()
	e, s, cache, c := engineFixture(t, 4, 3)

	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	start := time.Date(2024, 6, 5, 9, 30, 0, 0, market.ExchangeTZ())
	insertCloses(t, s, c, start, []float64{100, 102, 101})

	high, low, err := e.DayExtremes(ctx, c, 5, market.Trades, now)
	require.NoError(t, err)
	assert.Equal(t, 103.0, high) // 102 close + 1 high
	assert.Equal(t, 99.0, low)   // 100 close - 1 low

	// A previously cached wider range wins over today's narrower bars.
	require.NoError(t, coord.PutFloat(ctx, cache, coord.IndicatorKey("SPX", market.Trades, "high"), 110, 0))
	require.NoError(t, coord.PutFloat(ctx, cache, coord.IndicatorKey("SPX", market.Trades, "low"), 90, 0))

	high, low, err = e.DayExtremes(ctx, c, 5, market.Trades, now)
	require.NoError(t, err)
	assert.Equal(t, 110.0, high)
	assert.Equal(t, 90.0, low)
}

func TestDayExtremesNoBars(t *testing.T) {
	ctx := context.Background()
	e, _, _, c := engineFixture(t, 4, 3)

	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	_, _, err := e.DayExtremes(ctx, c, 5, market.Trades, now)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}
