package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/htbot/config"
	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/gateway/gatewaytest"
	"github.com/rustyeddy/htbot/ingest"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/orders"
	"github.com/rustyeddy/htbot/store"
)

type secondaryFixture struct {
	store      *store.Store
	cache      *coord.Memory
	sess       *gatewaytest.Session
	mail       *recorder
	strat      *Secondary
	underlying market.Contract
}

func secondaryConfig() config.SecondaryConfig {
	return config.SecondaryConfig{
		BarSize: 15, EntryTime: "09:30", OutTime: "15:00",
		MomentumThreshold: 3, CallLeg: 3, PutLeg: 4,
	}
}

func newSecondaryFixture(t *testing.T, right market.Right, now time.Time) *secondaryFixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.InsertContract(ctx, market.Contract{
		Kind: market.Index, Symbol: "SPX", Exchange: "CBOE", Currency: "USD", Tradeable: true,
	})
	require.NoError(t, err)
	underlying, err := s.GetContract(ctx, id)
	require.NoError(t, err)

	cache := coord.NewMemory()
	sess := &gatewaytest.Session{Quotes: map[string]float64{}}
	mail := &recorder{}

	filler := ingest.New(s, zerolog.Nop())
	filler.SetClock(func() time.Time { return now })
	exec := orders.NewExecutor(s, cache, 0.01, 2, 0, 0, zerolog.Nop())

	strat, err := NewSecondary(s, cache, filler, exec, mail, secondaryConfig(), right, "SPX", 150, zerolog.Nop())
	require.NoError(t, err)
	strat.SetClock(func() time.Time { return now })

	return &secondaryFixture{store: s, cache: cache, sess: sess, mail: mail, strat: strat, underlying: underlying}
}

func TestSecondaryCallEnters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 9, 45, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)

	f.sess.Quotes["SPX/LAST"] = 100.5
	f.sess.Chains = []gateway.Chain{{
		Exchange: "CBOE", TradingClass: "SPXW",
		Expirations: []string{"20240605"},
		Strikes:     strikes(85, 115),
	}}
	// Calls above 100.5 ascending: 3rd is 103.
	f.sess.Quotes["SPX:103:C/ASK"] = 1.5

	require.NoError(t, f.strat.Check(ctx, f.sess))

	placed := f.sess.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, market.Buy, placed[0].Side)
	assert.Equal(t, 103.0, placed[0].Contract.Strike)
	assert.Equal(t, market.Call, placed[0].Contract.Right)

	var ref coord.LegRef
	_, err := coord.GetJSON(ctx, f.cache, coord.KeyCall, &ref)
	require.NoError(t, err)
	assert.NotZero(t, ref.OrderID)
	assert.InDelta(t, 1.5, ref.Price, 1e-9)

	require.Len(t, f.mail.subjects, 1)
	assert.Contains(t, f.mail.subjects[0], "secondary-call entered")

	// Second tick monitors the held leg and buys nothing new.
	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Len(t, f.sess.PlacedOrders(), 1)
}

func TestSecondaryPutEnters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 9, 45, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Put, now)

	f.sess.Quotes["SPX/LAST"] = 100.5
	f.sess.Chains = []gateway.Chain{{
		Exchange: "CBOE", TradingClass: "SPXW",
		Expirations: []string{"20240605"},
		Strikes:     strikes(85, 115),
	}}
	// Puts below 100.5 descending: 4th is 97.
	f.sess.Quotes["SPX:97:P/ASK"] = 0.9

	require.NoError(t, f.strat.Check(ctx, f.sess))

	placed := f.sess.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, 97.0, placed[0].Contract.Strike)
	assert.Equal(t, market.Put, placed[0].Contract.Right)

	var ref coord.LegRef
	_, err := coord.GetJSON(ctx, f.cache, coord.KeyPut, &ref)
	require.NoError(t, err)
}

func TestSecondaryNoEntryOutsideWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 9, 0, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)

	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Empty(t, f.sess.PlacedOrders())
}

func TestSecondaryClaimBlocksConcurrentTick(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 9, 45, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)

	f.sess.Quotes["SPX/LAST"] = 100.5

	// Another worker claimed the key between our read and write; the
	// monitor path then fails to find the order, which is that worker's
	// problem, not ours - we must not place anything.
	held, err := f.store.InsertOrder(ctx, market.Order{
		ContractID: f.underlying.ID, Direction: market.Long, Side: market.Buy,
		Size: 1, Price: 1.0, Status: market.StatusSubmitted,
	})
	require.NoError(t, err)
	_, err = coord.CreateJSON(ctx, f.cache, coord.KeyCall,
		coord.LegRef{V: 1, OrderID: held, ContractID: f.underlying.ID, Price: 1.0}, 0)
	require.NoError(t, err)

	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Empty(t, f.sess.PlacedOrders())
}

// seedLeg installs a held bought call at 1.00.
func seedLeg(t *testing.T, f *secondaryFixture) market.Contract {
	t.Helper()
	ctx := context.Background()
	expiry := time.Date(2024, 6, 5, 0, 0, 0, 0, market.ExchangeTZ())

	opts, err := f.store.InsertOptions(ctx, []market.Contract{
		market.NewOption(f.underlying, expiry, 103, market.Call),
	})
	require.NoError(t, err)
	opt := opts[0]

	orderID, err := f.store.InsertOrder(ctx, market.Order{
		ContractID: opt.ID, Direction: market.Long, Side: market.Buy,
		Size: 1, Price: 1.0, Status: market.StatusFilled,
	})
	require.NoError(t, err)

	_, err = coord.CreateJSON(ctx, f.cache, coord.KeyCall,
		coord.LegRef{V: 1, OrderID: orderID, ContractID: opt.ID, Price: 1.0}, 0)
	require.NoError(t, err)
	return opt
}

func TestSecondaryMomentumExit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)
	opt := seedLeg(t, f)

	// A closed bid bar past 3x the 1.00 entry with a down body.
	f.sess.Bars = []market.Bar{{
		Time: time.Date(2024, 6, 5, 10, 30, 0, 0, market.ExchangeTZ()),
		Open: 3.4, High: 3.5, Low: 2.9, Close: 3.0, Volume: 5,
	}}
	f.sess.Quotes["SPX:103:C/BID"] = 3.0

	require.NoError(t, f.strat.Check(ctx, f.sess))

	placed := f.sess.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, market.Sell, placed[0].Side)

	stored, err := f.store.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.ExitPrice)
	assert.InDelta(t, 3.0, *stored.ExitPrice, 1e-9)
	assert.Equal(t, opt.ID, stored.ContractID)

	_, err = f.cache.Get(ctx, coord.KeyCall)
	assert.ErrorIs(t, err, coord.ErrKeyNotFound)

	require.Len(t, f.mail.subjects, 1)
	assert.Contains(t, f.mail.subjects[0], "MomentumLost")
}

func TestSecondaryHoldsBelowMomentumThreshold(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)
	seedLeg(t, f)

	// Momentum-lost shape, but the leg never reached 3x entry.
	f.sess.Bars = []market.Bar{{
		Time: time.Date(2024, 6, 5, 10, 30, 0, 0, market.ExchangeTZ()),
		Open: 2.4, High: 2.5, Low: 1.9, Close: 2.0, Volume: 5,
	}}

	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Empty(t, f.sess.PlacedOrders())

	_, err := f.cache.Get(ctx, coord.KeyCall)
	assert.NoError(t, err)
}

func TestSecondaryHoldsWithMomentum(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)
	seedLeg(t, f)

	// Past 3x entry but the bar still runs up with a small wick.
	f.sess.Bars = []market.Bar{{
		Time: time.Date(2024, 6, 5, 10, 30, 0, 0, market.ExchangeTZ()),
		Open: 3.0, High: 3.6, Low: 2.9, Close: 3.5, Volume: 5,
	}}

	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Empty(t, f.sess.PlacedOrders())
}

func TestSecondaryTimeExit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 15, 1, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)
	seedLeg(t, f)

	f.sess.Quotes["SPX:103:C/BID"] = 1.2

	require.NoError(t, f.strat.Check(ctx, f.sess))

	placed := f.sess.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, market.Sell, placed[0].Side)

	_, err := f.cache.Get(ctx, coord.KeyCall)
	assert.ErrorIs(t, err, coord.ErrKeyNotFound)

	require.Len(t, f.mail.subjects, 1)
	assert.Contains(t, f.mail.subjects[0], "TimeExit")
}

func TestSecondaryStaleKeyCleared(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 5, 11, 0, 0, 0, market.ExchangeTZ())
	f := newSecondaryFixture(t, market.Call, now)
	seedLeg(t, f)

	// Leg already closed elsewhere.
	require.NoError(t, f.store.SetOrderExit(ctx, 1, 2.0))

	require.NoError(t, f.strat.Check(ctx, f.sess))
	assert.Empty(t, f.sess.PlacedOrders())

	_, err := f.cache.Get(ctx, coord.KeyCall)
	assert.ErrorIs(t, err, coord.ErrKeyNotFound)
}
