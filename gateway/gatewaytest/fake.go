// Package gatewaytest provides a scripted in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/market"
)

// PlacedOrder records one PlaceOrder call.
type PlacedOrder struct {
	Contract market.Contract
	Side     market.Side
	Size     float64
	Limit    float64
}

// Session is a scripted gateway session. Zero value quotes NaN and returns
// no bars; populate the fields a test needs.
type Session struct {
	mu sync.Mutex

	// Quotes maps "SYMBOL/SIDE" to the price returned. Option contracts
	// use "SYMBOL:STRIKE:RIGHT/SIDE". Missing entries quote NaN.
	Quotes map[string]float64

	// Bars is returned from every HistoricalBars call.
	Bars []market.Bar

	// BarCalls records the requested windows.
	BarCalls []gateway.Duration

	// Chains is returned from OptionChains.
	Chains []gateway.Chain

	// QualifyErr, when set, fails Qualify.
	QualifyErr error

	// Placed records submitted orders.
	Placed []PlacedOrder

	// Disconnected is set by Disconnect.
	Disconnected bool

	nextConID int64
}

// QuoteKey builds the lookup key Quotes uses for a contract.
func QuoteKey(c market.Contract, side gateway.QuoteSide) string {
	if c.IsOption() {
		return fmt.Sprintf("%s:%.0f:%s/%s", c.Symbol, c.Strike, c.Right, side)
	}
	return fmt.Sprintf("%s/%s", c.Symbol, side)
}

func (s *Session) Qualify(_ context.Context, c market.Contract) (market.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QualifyErr != nil {
		return market.Contract{}, s.QualifyErr
	}
	if c.ConID == 0 {
		s.nextConID++
		c.ConID = 1000 + s.nextConID
	}
	return c, nil
}

func (s *Session) Quote(_ context.Context, c market.Contract, side gateway.QuoteSide) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if px, ok := s.Quotes[QuoteKey(c, side)]; ok {
		return px, nil
	}
	return math.NaN(), nil
}

func (s *Session) HistoricalBars(_ context.Context, _ market.Contract, d gateway.Duration, _ int, _ market.BarKind, _ bool) ([]market.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BarCalls = append(s.BarCalls, d)
	return s.Bars, nil
}

func (s *Session) OptionChains(_ context.Context, _ market.Contract) ([]gateway.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Chains, nil
}

func (s *Session) PlaceOrder(_ context.Context, c market.Contract, side market.Side, size, limit float64) (gateway.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Placed = append(s.Placed, PlacedOrder{Contract: c, Side: side, Size: size, Limit: limit})
	return gateway.Trade{GatewayOrderID: int64(len(s.Placed)), Status: market.StatusSubmitted}, nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disconnected = true
	return nil
}

// PlacedOrders returns a copy of the submission log.
func (s *Session) PlacedOrders() []PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlacedOrder(nil), s.Placed...)
}

// Dialer hands out the same Session, optionally failing the first FailTimes
// dials.
type Dialer struct {
	mu        sync.Mutex
	Session   *Session
	FailTimes int

	Dials     int
	ClientIDs []int
}

func (d *Dialer) Dial(_ context.Context, _ string, _, clientID int) (gateway.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	d.ClientIDs = append(d.ClientIDs, clientID)
	if d.Dials <= d.FailTimes {
		return nil, fmt.Errorf("connection refused")
	}
	if d.Session == nil {
		d.Session = &Session{}
	}
	return d.Session, nil
}
