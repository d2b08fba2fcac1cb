package strategies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/config"
	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/indicators"
	"github.com/rustyeddy/htbot/ingest"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/metrics"
	"github.com/rustyeddy/htbot/notify"
	"github.com/rustyeddy/htbot/orders"
	"github.com/rustyeddy/htbot/store"
)

// Primary is the hedged directional strategy: on a breakout of the cached
// day extreme in the trend direction it sells a near-the-money leg and buys
// a farther out-of-the-money saver leg, then monitors combined leg P&L until
// a profit target, stop loss, or the session out-time closes both.
type Primary struct {
	store  *store.Store
	cache  coord.Cache
	filler *ingest.Filler
	engine *indicators.Engine
	exec   *orders.Executor
	mail   notify.Notifier
	cfg    config.PrimaryConfig
	ttl    time.Duration
	log    zerolog.Logger
	now    func() time.Time

	entryMin int
	outMin   int
}

// NewPrimary wires the primary strategy. ttl bounds the cached bar and
// indicator snapshots it publishes.
func NewPrimary(s *store.Store, c coord.Cache, f *ingest.Filler, e *indicators.Engine, x *orders.Executor, n notify.Notifier, cfg config.PrimaryConfig, ttl time.Duration, log zerolog.Logger) (*Primary, error) {
	entryMin, err := market.ParseClock(cfg.EntryTime)
	if err != nil {
		return nil, err
	}
	outMin, err := market.ParseClock(cfg.OutTime)
	if err != nil {
		return nil, err
	}
	return &Primary{
		store: s, cache: c, filler: f, engine: e, exec: x, mail: n,
		cfg: cfg, ttl: ttl, log: log, now: market.Now,
		entryMin: entryMin, outMin: outMin,
	}, nil
}

// SetClock pins the strategy clock for tests.
func (p *Primary) SetClock(now func() time.Time) { p.now = now }

// Tick runs one full evaluation: exit monitoring first, then entry. A tick
// that unwinds a trade never re-enters; the next tick evaluates entry fresh.
func (p *Primary) Tick(ctx context.Context, sess gateway.Session) error {
	exited, err := p.CheckExit(ctx, sess)
	if err != nil || exited {
		return err
	}
	return p.CheckEntry(ctx, sess)
}

// CheckEntry runs one entry evaluation: ingest the underlying's bars,
// refresh trend and day extremes when the cache is cold, and enter on a
// breakout inside the entry window while no trade is active. The entry
// transition commits by a conditional create on the trade key; a concurrent
// tick loses that race and backs off without placing anything.
func (p *Primary) CheckEntry(ctx context.Context, sess gateway.Session) error {
	now := p.now().In(market.ExchangeTZ())

	underlying, err := p.store.GetContractBySymbol(ctx, p.cfg.Symbol, market.Index)
	if err != nil {
		return err
	}

	staged, openBar, err := p.filler.FillGaps(ctx, sess, underlying, p.cfg.BarSize, market.Trades)
	if err != nil {
		return err
	}
	inserted, err := p.store.InsertBars(ctx, staged)
	if err != nil {
		return err
	}
	metrics.BarsInserted.Add(float64(inserted))
	if err := p.publishSnapshots(ctx, underlying, openBar); err != nil {
		return err
	}

	trend, err := p.currentTrend(ctx, underlying)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientHistory) {
			p.log.Debug().Msg("trend not ready, deferring entry")
			return nil
		}
		return err
	}

	high, low, err := p.dayExtremes(ctx, underlying, now)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientHistory) {
			return nil
		}
		return err
	}

	minute := market.MinuteOfDay(now)
	if minute < p.entryMin || minute >= p.outMin {
		return nil
	}
	if openBar == nil {
		// No in-progress bar to compare against; next tick decides.
		return nil
	}

	var dir market.Direction
	switch trend {
	case 1:
		if openBar.High > high {
			dir = market.Long
		}
	case -1:
		if openBar.Low < low {
			dir = market.Short
		}
	}
	if dir == 0 {
		return nil
	}

	// Active-trade check and claim in one conditional write.
	state := coord.TradeState{V: 1, Direction: int(dir), MaxGain: 0}
	if _, err := coord.CreateJSON(ctx, p.cache, coord.KeyTrade, state, 0); err != nil {
		if errors.Is(err, coord.ErrKeyExists) {
			return nil
		}
		return err
	}

	legsPlaced := 0
	defer func() {
		// A claim with no legs behind it must not survive the cycle. Once
		// a leg is live the claim stays so the exit job can unwind it.
		if legsPlaced == 0 {
			if derr := p.cache.Delete(ctx, coord.KeyTrade); derr != nil {
				p.log.Warn().Err(derr).Msg("release entry claim")
			}
		}
	}()

	spot := openBar.Close
	chain, err := orders.EnsureChain(ctx, sess, p.store, underlying, market.ZeroDTEExpiry(now), spot, p.cfg.StrikeSpread, p.log)
	if err != nil {
		return err
	}
	candidates := orders.Filter(chain, spot, dir)

	money, err := orders.Ordinal(candidates, p.cfg.MoneyLeg)
	if err != nil {
		return fmt.Errorf("money leg: %w", err)
	}
	saver, err := orders.Ordinal(candidates, p.cfg.SaverLeg)
	if err != nil {
		return fmt.Errorf("saver leg: %w", err)
	}

	sold, err := p.exec.Open(ctx, sess, orders.Request{
		Option: money, Side: market.Sell, Size: 1, Direction: dir, CacheKey: coord.KeyLegSell,
	})
	if err != nil {
		return err
	}
	legsPlaced++

	bought, err := p.exec.Open(ctx, sess, orders.Request{
		Option: saver, Side: market.Buy, Size: 1, Direction: dir, CacheKey: coord.KeyLegBuy,
	})
	if err != nil {
		// The sold leg is live; the trade key stays so monitoring picks
		// up what exists and the out-time unwinds it.
		return err
	}
	legsPlaced++

	if err := coord.PutTime(ctx, p.cache, coord.KeyTradeStart, now); err != nil {
		return err
	}
	// Advisory for other readers of the namespace; the exit decision keys
	// off the marked P&L, not this value.
	if err := coord.PutFloat(ctx, p.cache, coord.KeyStopLossTrigger, p.cfg.StopLoss, 0); err != nil {
		return err
	}

	subject, body := notify.EntryMessage("primary", []notify.Leg{
		{Contract: money, Side: market.Sell, Size: 1, Price: sold.Price},
		{Contract: saver, Side: market.Buy, Size: 1, Price: bought.Price},
	})
	if err := p.mail.Send(ctx, subject, body); err != nil {
		p.log.Warn().Err(err).Msg("entry notification")
	}

	p.log.Info().
		Int("direction", int(dir)).
		Float64("spot", spot).
		Str("money", money.Describe()).
		Str("saver", saver.Describe()).
		Msg("primary entered")
	return nil
}

// CheckExit runs one monitoring cycle for an active trade: recompute the
// combined leg P&L from live quotes, advance the high-water mark with a
// revision-checked update, and close both legs when the out-time, stop loss,
// or profit target is hit. Thresholds are inclusive on their boundaries.
// It reports whether the trade was unwound this cycle so the caller can
// suppress a same-tick re-entry.
func (p *Primary) CheckExit(ctx context.Context, sess gateway.Session) (bool, error) {
	now := p.now().In(market.ExchangeTZ())

	var state coord.TradeState
	rev, err := coord.GetJSON(ctx, p.cache, coord.KeyTrade, &state)
	if errors.Is(err, coord.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	start, err := coord.GetTime(ctx, p.cache, coord.KeyTradeStart)
	if errors.Is(err, coord.ErrKeyNotFound) {
		start = now
		if perr := coord.PutTime(ctx, p.cache, coord.KeyTradeStart, start); perr != nil {
			return false, perr
		}
	} else if err != nil {
		return false, err
	}

	legs, pnl, err := p.markLegs(ctx, sess)
	if err != nil {
		// No price, no transition; next tick retries.
		return false, err
	}
	if len(legs) == 0 {
		p.log.Warn().Msg("trade key with no legs, clearing state")
		return false, p.clearTradeState(ctx)
	}

	open := 0
	for _, leg := range legs {
		if !leg.realized {
			open++
		}
	}
	if open == 0 {
		// Every leg already carries an exit fill: a prior unwind stopped
		// short of clearing the shared state. Finish the cleanup without
		// touching the gateway.
		p.log.Info().Float64("pnl", pnl).Msg("legs already closed, clearing state")
		if err := p.clearTradeState(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	if pnl > state.MaxGain {
		state.MaxGain = pnl
	}
	// One revision bump per monitoring cycle doubles as the exit claim:
	// a concurrent cycle observes the mismatch and backs off.
	if _, err := coord.UpdateJSON(ctx, p.cache, coord.KeyTrade, state, rev, 0); err != nil {
		if errors.Is(err, coord.ErrRevisionMismatch) || errors.Is(err, coord.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}

	var reason ExitReason
	switch {
	case market.MinuteOfDay(now) >= p.outMin:
		reason = ReasonTimeExit
	case pnl <= p.cfg.StopLoss:
		reason = ReasonStopLoss
	case pnl >= p.cfg.ProfitTarget:
		reason = ReasonProfitTarget
	}

	p.log.Debug().
		Float64("pnl", pnl).
		Float64("max_gain", state.MaxGain).
		Str("reason", string(reason)).
		Msg("primary monitor")

	if reason == "" {
		return false, nil
	}

	realized := 0.0
	for _, leg := range legs {
		if leg.realized {
			realized += leg.pnl
			continue
		}
		legPnL, err := p.exec.Close(ctx, sess, leg.ref.OrderID)
		if err != nil {
			// State stays; the next tick finishes the unwind.
			return false, err
		}
		realized += legPnL
	}

	if err := p.clearTradeState(ctx); err != nil {
		return false, err
	}
	metrics.TradesExited.WithLabelValues(string(reason)).Inc()

	subject, body := notify.ExitMessage("primary", string(reason), realized, now.Sub(start))
	if err := p.mail.Send(ctx, subject, body); err != nil {
		p.log.Warn().Err(err).Msg("exit notification")
	}

	p.log.Info().
		Str("reason", string(reason)).
		Float64("pnl", realized).
		Dur("held", now.Sub(start)).
		Msg("primary exited")
	return true, nil
}

// markedLeg is one leg reference with its current P&L. A realized leg
// already carries an exit fill from a prior unwind and must not be closed
// again.
type markedLeg struct {
	ref      coord.LegRef
	pnl      float64
	realized bool
}

// markLegs loads the leg references and marks the open ones against live
// quotes; legs closed elsewhere contribute their recorded exit P&L.
func (p *Primary) markLegs(ctx context.Context, sess gateway.Session) ([]markedLeg, float64, error) {
	var legs []markedLeg
	pnl := 0.0

	for _, key := range []string{coord.KeyLegSell, coord.KeyLegBuy} {
		var ref coord.LegRef
		if _, err := coord.GetJSON(ctx, p.cache, key, &ref); err != nil {
			if errors.Is(err, coord.ErrKeyNotFound) {
				continue
			}
			return nil, 0, err
		}

		order, err := p.store.GetOrder(ctx, ref.OrderID)
		if err != nil {
			return nil, 0, err
		}
		if order.ExitPrice != nil {
			leg := markedLeg{ref: ref, pnl: order.LegPnL(*order.ExitPrice), realized: true}
			legs = append(legs, leg)
			pnl += leg.pnl
			continue
		}
		c, err := p.store.GetContract(ctx, order.ContractID)
		if err != nil {
			return nil, 0, err
		}
		px, err := p.exec.LatestPrice(ctx, sess, c, gateway.QuoteLast)
		if err != nil {
			return nil, 0, err
		}

		legs = append(legs, markedLeg{ref: ref, pnl: order.LegPnL(px)})
		pnl += order.LegPnL(px)
	}
	return legs, pnl, nil
}

func (p *Primary) clearTradeState(ctx context.Context) error {
	for _, key := range []string{coord.KeyLegSell, coord.KeyLegBuy, coord.KeyTradeStart, coord.KeyStopLossTrigger, coord.KeyTrade} {
		if err := p.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %q: %w", key, err)
		}
	}
	return nil
}

// currentTrend serves the cached trend flag, recomputing when the snapshot
// expired. Insufficient history propagates so the caller can defer.
func (p *Primary) currentTrend(ctx context.Context, underlying market.Contract) (int, error) {
	v, err := coord.GetFloat(ctx, p.cache, coord.IndicatorKey(underlying.Symbol, market.Trades, "trend"))
	if err == nil {
		return int(v), nil
	}
	if !errors.Is(err, coord.ErrKeyNotFound) {
		return 0, err
	}

	trend, _, err := p.engine.Recompute(ctx, underlying, p.cfg.BarSize, market.Trades)
	if err != nil {
		return 0, err
	}
	return trend, nil
}

// dayExtremes serves the cached session high/low, rescanning when either
// snapshot expired.
func (p *Primary) dayExtremes(ctx context.Context, underlying market.Contract, now time.Time) (float64, float64, error) {
	high, herr := coord.GetFloat(ctx, p.cache, coord.IndicatorKey(underlying.Symbol, market.Trades, "high"))
	low, lerr := coord.GetFloat(ctx, p.cache, coord.IndicatorKey(underlying.Symbol, market.Trades, "low"))
	if herr == nil && lerr == nil {
		return high, low, nil
	}
	for _, err := range []error{herr, lerr} {
		if err != nil && !errors.Is(err, coord.ErrKeyNotFound) {
			return 0, 0, err
		}
	}
	return p.engine.DayExtremes(ctx, underlying, p.cfg.BarSize, market.Trades, now)
}

// publishSnapshots mirrors the open and last closed bar into the cache for
// the presentation layer and cold-start checks.
func (p *Primary) publishSnapshots(ctx context.Context, underlying market.Contract, openBar *market.Bar) error {
	if openBar != nil {
		key := coord.BarKey(underlying.Symbol, market.Trades, p.cfg.BarSize, true)
		if err := coord.PutJSON(ctx, p.cache, key, coord.SnapshotOf(*openBar), p.ttl); err != nil {
			return err
		}
	}

	last, ok, err := p.store.LastBar(ctx, underlying.ID, p.cfg.BarSize, market.Trades)
	if err != nil {
		return err
	}
	if ok {
		key := coord.BarKey(underlying.Symbol, market.Trades, p.cfg.BarSize, false)
		if err := coord.PutJSON(ctx, p.cache, key, coord.SnapshotOf(last.Bar()), p.ttl); err != nil {
			return err
		}
	}
	return nil
}
