package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/metrics"
	"github.com/rustyeddy/htbot/store"
)

// Executor turns leg requests into gateway limit orders. Entry prices come
// from a bounded quote poll with a historical fallback, so a quiet feed never
// stalls a job past its poll budget.
type Executor struct {
	store      *store.Store
	cache      coord.Cache
	tick       float64
	quoteTries int
	quoteWait  time.Duration
	statusWait time.Duration
	log        zerolog.Logger
}

// NewExecutor builds an executor. tick is the limit price increment,
// quoteTries bounds the quote poll, quoteWait spaces the polls, and
// statusWait is the pause after submission before the row is recorded.
func NewExecutor(s *store.Store, c coord.Cache, tick float64, quoteTries int, quoteWait, statusWait time.Duration, log zerolog.Logger) *Executor {
	return &Executor{store: s, cache: c, tick: tick, quoteTries: quoteTries, quoteWait: quoteWait, statusWait: statusWait, log: log}
}

// Request describes one opening leg.
type Request struct {
	Option    market.Contract
	Side      market.Side
	Size      float64
	Direction market.Direction

	// CacheKey, when set, receives a LegRef record after the row is
	// written so other jobs can find the leg.
	CacheKey string
}

// pricingSide returns the side of the book an execution crosses: a buy
// lifts the ask, a sell hits the bid.
func pricingSide(s market.Side) gateway.QuoteSide {
	if s == market.Buy {
		return gateway.QuoteAsk
	}
	return gateway.QuoteBid
}

// Open prices and submits an opening leg, records it, and publishes its
// reference under the request's cache key.
func (e *Executor) Open(ctx context.Context, sess gateway.Session, req Request) (market.Order, error) {
	opt, err := e.qualify(ctx, sess, req.Option)
	if err != nil {
		return market.Order{}, err
	}

	price, err := e.LatestPrice(ctx, sess, opt, pricingSide(req.Side))
	if err != nil {
		return market.Order{}, fmt.Errorf("price %s: %w", opt.Describe(), err)
	}
	limit := e.RoundTick(price)

	// Book snapshot for the row; a missing side is recorded as zero.
	bid := e.quoteOrZero(ctx, sess, opt, gateway.QuoteBid)
	ask := e.quoteOrZero(ctx, sess, opt, gateway.QuoteAsk)

	trade, err := sess.PlaceOrder(ctx, opt, req.Side, req.Size, limit)
	if err != nil {
		return market.Order{}, fmt.Errorf("place %s %s: %w", req.Side, opt.Describe(), err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(req.Side)).Inc()
	if err := e.wait(ctx, e.statusWait); err != nil {
		return market.Order{}, err
	}

	order := market.Order{
		ContractID: opt.ID,
		Direction:  req.Direction,
		Side:       req.Side,
		Size:       req.Size,
		Price:      limit,
		BidAtEntry: bid,
		AskAtEntry: ask,
		Status:     trade.Status,
	}
	order.ID, err = e.store.InsertOrder(ctx, order)
	if err != nil {
		return market.Order{}, err
	}

	if req.CacheKey != "" {
		ref := coord.LegRef{V: 1, OrderID: order.ID, ContractID: opt.ID, Price: limit}
		if err := coord.PutJSON(ctx, e.cache, req.CacheKey, ref, 0); err != nil {
			return market.Order{}, err
		}
	}

	e.log.Info().
		Str("contract", opt.Describe()).
		Str("side", string(req.Side)).
		Float64("size", req.Size).
		Float64("limit", limit).
		Int64("order_id", order.ID).
		Msg("leg opened")

	return order, nil
}

// Close submits the closing side of an open leg and records the exit price
// exactly once. It returns the realized P&L of the leg.
func (e *Executor) Close(ctx context.Context, sess gateway.Session, orderID int64) (float64, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	c, err := e.store.GetContract(ctx, order.ContractID)
	if err != nil {
		return 0, err
	}

	closing := order.Side.Opposite()
	price, err := e.LatestPrice(ctx, sess, c, pricingSide(closing))
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", c.Describe(), err)
	}
	limit := e.RoundTick(price)

	if _, err := sess.PlaceOrder(ctx, c, closing, order.Size, limit); err != nil {
		return 0, fmt.Errorf("close %s: %w", c.Describe(), err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(closing)).Inc()
	if err := e.wait(ctx, e.statusWait); err != nil {
		return 0, err
	}
	if err := e.store.SetOrderExit(ctx, orderID, limit); err != nil {
		return 0, err
	}

	pnl := order.LegPnL(limit)
	e.log.Info().
		Str("contract", c.Describe()).
		Str("side", string(closing)).
		Float64("exit", limit).
		Float64("pnl", pnl).
		Int64("order_id", orderID).
		Msg("leg closed")

	return pnl, nil
}

// LatestPrice polls one side of the book within the poll budget and falls
// back to the close of the most recent historical bar. A NaN quote means the
// gateway has no print yet, not an error.
func (e *Executor) LatestPrice(ctx context.Context, sess gateway.Session, c market.Contract, side gateway.QuoteSide) (float64, error) {
	for i := 0; i < e.quoteTries; i++ {
		px, err := sess.Quote(ctx, c, side)
		if err != nil {
			return 0, err
		}
		if !math.IsNaN(px) && px > 0 {
			return px, nil
		}
		if err := e.wait(ctx, e.quoteWait); err != nil {
			return 0, err
		}
	}

	bars, err := sess.HistoricalBars(ctx, c, gateway.Duration{Days: 1}, 15, market.Trades, false)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, gateway.ErrPriceUnavailable
	}

	px := bars[len(bars)-1].Close
	e.log.Warn().
		Str("contract", c.Describe()).
		Float64("price", px).
		Msg("no live quote, using last bar close")
	return px, nil
}

// RoundTick snaps a price to the executor's tick.
func (e *Executor) RoundTick(price float64) float64 {
	return math.Round(price/e.tick) * e.tick
}

// qualify resolves the broker identifier once and persists it on the
// contract row.
func (e *Executor) qualify(ctx context.Context, sess gateway.Session, c market.Contract) (market.Contract, error) {
	if c.ConID != 0 {
		return c, nil
	}
	q, err := sess.Qualify(ctx, c)
	if err != nil {
		return market.Contract{}, fmt.Errorf("qualify %s: %w", c.Describe(), err)
	}
	if q.ConID == 0 {
		return market.Contract{}, fmt.Errorf("%w: %s", gateway.ErrContractResolution, c.Describe())
	}
	if err := e.store.SetConID(ctx, c.ID, q.ConID); err != nil {
		return market.Contract{}, err
	}
	q.ID = c.ID
	return q, nil
}

func (e *Executor) quoteOrZero(ctx context.Context, sess gateway.Session, c market.Contract, side gateway.QuoteSide) float64 {
	px, err := sess.Quote(ctx, c, side)
	if err != nil || math.IsNaN(px) {
		return 0
	}
	return px
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
