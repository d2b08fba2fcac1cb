package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	m, err := ParseClock("10:00")
	require.NoError(t, err)
	assert.Equal(t, 600, m)

	m, err = ParseClock("15:30")
	require.NoError(t, err)
	assert.Equal(t, 930, m)

	_, err = ParseClock("25:99")
	assert.Error(t, err)
}

func TestZeroDTEExpiryRollsWeekend(t *testing.T) {
	// 2024-06-08 is a Saturday.
	sat := time.Date(2024, 6, 8, 11, 0, 0, 0, ExchangeTZ())
	exp := ZeroDTEExpiry(sat)
	assert.Equal(t, time.Monday, exp.Weekday())
	assert.Equal(t, 10, exp.Day())

	// A weekday stays put.
	wed := time.Date(2024, 6, 5, 11, 0, 0, 0, ExchangeTZ())
	assert.Equal(t, 5, ZeroDTEExpiry(wed).Day())
}

func TestSessionDay(t *testing.T) {
	at := time.Date(2024, 6, 5, 13, 37, 0, 0, ExchangeTZ())
	start, end := SessionDay(at)
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestLegPnL(t *testing.T) {
	long := Order{Side: Buy, Price: 2.50, Size: 1}
	assert.InDelta(t, 150.0, long.LegPnL(4.00), 1e-9)
	assert.InDelta(t, -100.0, long.LegPnL(1.50), 1e-9)

	short := Order{Side: Sell, Price: 2.50, Size: 1}
	assert.InDelta(t, 150.0, short.LegPnL(1.00), 1e-9)
	assert.InDelta(t, -150.0, short.LegPnL(4.00), 1e-9)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
