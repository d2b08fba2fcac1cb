package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/htbot/market"
)

func TestMemoryCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, err := c.Create(ctx, KeyTrade, []byte("a"), 0)
	require.NoError(t, err)

	_, err = c.Create(ctx, KeyTrade, []byte("b"), 0)
	assert.ErrorIs(t, err, ErrKeyExists)

	e, err := c.Get(ctx, KeyTrade)
	require.NoError(t, err)
	assert.Equal(t, "a", string(e.Value))
}

func TestMemoryCreateRace(t *testing.T) {
	// Many concurrent ticks all observing IDLE; exactly one may win.
	ctx := context.Background()
	c := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Create(ctx, KeyTrade, []byte("x"), 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryUpdateChecksRevision(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	rev, err := c.Create(ctx, KeyTrade, []byte("a"), 0)
	require.NoError(t, err)

	rev2, err := c.Update(ctx, KeyTrade, []byte("b"), rev, 0)
	require.NoError(t, err)

	// Stale revision loses.
	_, err = c.Update(ctx, KeyTrade, []byte("c"), rev, 0)
	assert.ErrorIs(t, err, ErrRevisionMismatch)

	e, err := c.Get(ctx, KeyTrade)
	require.NoError(t, err)
	assert.Equal(t, "b", string(e.Value))
	assert.Equal(t, rev2, e.Revision)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Put(ctx, "SPX_TRADES_trend", []byte("1"), 20*time.Minute))

	_, err := c.Get(ctx, "SPX_TRADES_trend")
	require.NoError(t, err)

	now = now.Add(21 * time.Minute)
	_, err = c.Get(ctx, "SPX_TRADES_trend")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Expired slot can be re-created.
	_, err = c.Create(ctx, "SPX_TRADES_trend", []byte("0"), 0)
	assert.NoError(t, err)
}

func TestMemoryDeleteMissingIsNoop(t *testing.T) {
	assert.NoError(t, NewMemory().Delete(context.Background(), "nope"))
}

func TestRecordRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	rev, err := CreateJSON(ctx, c, KeyTrade, TradeState{V: 1, Direction: 1}, 0)
	require.NoError(t, err)

	var st TradeState
	got, err := GetJSON(ctx, c, KeyTrade, &st)
	require.NoError(t, err)
	assert.Equal(t, rev, got)
	assert.Equal(t, TradeState{V: 1, Direction: 1}, st)

	require.NoError(t, PutJSON(ctx, c, KeyLegBuy, LegRef{V: 1, OrderID: 7, ContractID: 3, Price: 2.45}, 0))
	var ref LegRef
	_, err = GetJSON(ctx, c, KeyLegBuy, &ref)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.OrderID)
	assert.Equal(t, 2.45, ref.Price)

	require.NoError(t, PutFloat(ctx, c, IndicatorKey("SPX", market.Trades, "high"), 5321.25, time.Minute))
	v, err := GetFloat(ctx, c, "SPX_TRADES_high")
	require.NoError(t, err)
	assert.Equal(t, 5321.25, v)
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "SPX_TRADES_trend", IndicatorKey("SPX", market.Trades, "trend"))
	assert.Equal(t, "SPX_TRADES_5O", BarKey("SPX", market.Trades, 5, true))
	assert.Equal(t, "SPX_BID_15C", BarKey("SPX", market.Bid, 15, false))
}
