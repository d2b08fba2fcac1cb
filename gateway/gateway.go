// Package gateway wraps the broker gateway: the session primitives the rest
// of the engine calls, and the connection supervisor that owns acquiring and
// releasing sessions per job run.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/htbot/market"
)

var (
	// ErrConnectionExhausted means the gateway stayed unreachable through
	// the whole retry budget. Fatal for the current job only; the next beat
	// tick retries.
	ErrConnectionExhausted = errors.New("gateway: connection attempts exhausted")

	// ErrPriceUnavailable means no live quote arrived within the poll
	// budget and no historical fallback existed.
	ErrPriceUnavailable = errors.New("gateway: price unavailable")

	// ErrContractResolution means the gateway returned no qualified
	// contract or an empty option chain.
	ErrContractResolution = errors.New("gateway: contract resolution failed")
)

// QuoteSide selects which side of the book a quote request returns.
type QuoteSide string

const (
	QuoteLast QuoteSide = "LAST"
	QuoteBid  QuoteSide = "BID"
	QuoteAsk  QuoteSide = "ASK"
)

// Duration is a historical-data request window: either a second count (for
// sub-hour gaps) or a trading-day count.
type Duration struct {
	Seconds int
	Days    int
}

func (d Duration) String() string {
	if d.Seconds > 0 {
		return fmt.Sprintf("%d S", d.Seconds)
	}
	return fmt.Sprintf("%d D", d.Days)
}

// Chain is one option chain definition for an underlying.
type Chain struct {
	Exchange     string
	TradingClass string
	Expirations  []string // YYYYMMDD
	Strikes      []float64
}

// Trade is the gateway's handle for a submitted order.
type Trade struct {
	GatewayOrderID int64
	Status         string
}

// Session is one live connection to the gateway. Implementations are not
// required to be safe for concurrent use; each job owns its session.
type Session interface {
	// Qualify resolves the broker identifier for a contract.
	Qualify(ctx context.Context, c market.Contract) (market.Contract, error)

	// Quote returns one side of the current market. It may return NaN when
	// the gateway has no quote yet; callers poll.
	Quote(ctx context.Context, c market.Contract, side QuoteSide) (float64, error)

	// HistoricalBars fetches closed and in-progress bars for the window.
	HistoricalBars(ctx context.Context, c market.Contract, d Duration, barSize int, kind market.BarKind, useRTH bool) ([]market.Bar, error)

	// OptionChains lists chain definitions for the underlying.
	OptionChains(ctx context.Context, underlying market.Contract) ([]Chain, error)

	// PlaceOrder submits a limit order.
	PlaceOrder(ctx context.Context, c market.Contract, side market.Side, size, limit float64) (Trade, error)

	// Disconnect releases the session.
	Disconnect() error
}

// Dialer opens sessions. clientID must be unique per concurrent connection.
type Dialer interface {
	Dial(ctx context.Context, host string, port, clientID int) (Session, error)
}
