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
	"github.com/rustyeddy/htbot/ingest"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/metrics"
	"github.com/rustyeddy/htbot/notify"
	"github.com/rustyeddy/htbot/orders"
	"github.com/rustyeddy/htbot/store"
)

// Secondary is one independent out-of-the-money leg: the call instance buys
// a far call, the put instance a far put. While entered it re-ingests the
// option's own bid bars and exits at the session out-time or on a
// momentum-loss signal once the leg has run to a multiple of its entry
// price.
type Secondary struct {
	store  *store.Store
	cache  coord.Cache
	filler *ingest.Filler
	exec   *orders.Executor
	mail   notify.Notifier
	cfg    config.SecondaryConfig
	right  market.Right
	symbol string
	spread float64
	log    zerolog.Logger
	now    func() time.Time

	entryMin int
	outMin   int
}

// NewSecondary wires one leg instance. symbol and spread identify the
// underlying and the chain discovery width around spot.
func NewSecondary(s *store.Store, c coord.Cache, f *ingest.Filler, x *orders.Executor, n notify.Notifier, cfg config.SecondaryConfig, right market.Right, symbol string, spread float64, log zerolog.Logger) (*Secondary, error) {
	entryMin, err := market.ParseClock(cfg.EntryTime)
	if err != nil {
		return nil, err
	}
	outMin, err := market.ParseClock(cfg.OutTime)
	if err != nil {
		return nil, err
	}
	return &Secondary{
		store: s, cache: c, filler: f, exec: x, mail: n,
		cfg: cfg, right: right, symbol: symbol, spread: spread,
		log: log, now: market.Now,
		entryMin: entryMin, outMin: outMin,
	}, nil
}

// SetClock pins the strategy clock for tests.
func (s *Secondary) SetClock(now func() time.Time) { s.now = now }

// key is the instance's coordination key.
func (s *Secondary) key() string {
	if s.right == market.Call {
		return coord.KeyCall
	}
	return coord.KeyPut
}

// direction is the market direction the instance profits from.
func (s *Secondary) direction() market.Direction {
	if s.right == market.Call {
		return market.Long
	}
	return market.Short
}

// name labels the instance in logs and notifications.
func (s *Secondary) name() string {
	if s.right == market.Call {
		return "secondary-call"
	}
	return "secondary-put"
}

// Check runs one evaluation. Exit monitoring for a held leg always precedes
// entry so an exit can never be followed by a same-tick re-entry.
func (s *Secondary) Check(ctx context.Context, sess gateway.Session) error {
	var ref coord.LegRef
	_, err := coord.GetJSON(ctx, s.cache, s.key(), &ref)
	switch {
	case err == nil:
		return s.monitor(ctx, sess, ref)
	case errors.Is(err, coord.ErrKeyNotFound):
		return s.enter(ctx, sess)
	default:
		return err
	}
}

func (s *Secondary) enter(ctx context.Context, sess gateway.Session) error {
	now := s.now().In(market.ExchangeTZ())
	minute := market.MinuteOfDay(now)
	if minute < s.entryMin || minute >= s.outMin {
		return nil
	}

	underlying, err := s.store.GetContractBySymbol(ctx, s.symbol, market.Index)
	if err != nil {
		return err
	}
	spot, err := s.exec.LatestPrice(ctx, sess, underlying, gateway.QuoteLast)
	if err != nil {
		return err
	}

	// Claim the instance key before touching the gateway; the losing
	// concurrent tick backs off here.
	if _, err := coord.CreateJSON(ctx, s.cache, s.key(), coord.LegRef{V: 1}, 0); err != nil {
		if errors.Is(err, coord.ErrKeyExists) {
			return nil
		}
		return err
	}

	opened := false
	defer func() {
		if !opened {
			if derr := s.cache.Delete(ctx, s.key()); derr != nil {
				s.log.Warn().Err(derr).Msg("release entry claim")
			}
		}
	}()

	chain, err := orders.EnsureChain(ctx, sess, s.store, underlying, market.ZeroDTEExpiry(now), spot, s.spread, s.log)
	if err != nil {
		return err
	}

	// The leg sits on the side the market would move toward: calls above
	// spot for the call instance, puts below for the put instance.
	var candidates []market.Contract
	var ordinal int
	if s.right == market.Call {
		candidates = orders.Filter(chain, spot, market.Short)
		ordinal = s.cfg.CallLeg
	} else {
		candidates = orders.Filter(chain, spot, market.Long)
		ordinal = s.cfg.PutLeg
	}

	opt, err := orders.Ordinal(candidates, ordinal)
	if err != nil {
		return fmt.Errorf("%s leg: %w", s.name(), err)
	}

	order, err := s.exec.Open(ctx, sess, orders.Request{
		Option: opt, Side: market.Buy, Size: 1,
		Direction: s.direction(), CacheKey: s.key(),
	})
	if err != nil {
		return err
	}
	opened = true

	subject, body := notify.EntryMessage(s.name(), []notify.Leg{
		{Contract: opt, Side: market.Buy, Size: 1, Price: order.Price},
	})
	if err := s.mail.Send(ctx, subject, body); err != nil {
		s.log.Warn().Err(err).Msg("entry notification")
	}

	s.log.Info().
		Str("contract", opt.Describe()).
		Float64("spot", spot).
		Float64("entry", order.Price).
		Msg("secondary entered")
	return nil
}

func (s *Secondary) monitor(ctx context.Context, sess gateway.Session, ref coord.LegRef) error {
	now := s.now().In(market.ExchangeTZ())

	order, err := s.store.GetOrder(ctx, ref.OrderID)
	if err != nil {
		return err
	}
	if order.ExitPrice != nil {
		// Closed elsewhere; the key is stale.
		return s.cache.Delete(ctx, s.key())
	}
	opt, err := s.store.GetContract(ctx, order.ContractID)
	if err != nil {
		return err
	}

	staged, _, err := s.filler.FillGaps(ctx, sess, opt, s.cfg.BarSize, market.Bid)
	if err != nil {
		return err
	}
	inserted, err := s.store.InsertBars(ctx, staged)
	if err != nil {
		return err
	}
	metrics.BarsInserted.Add(float64(inserted))

	var reason ExitReason
	if market.MinuteOfDay(now) >= s.outMin {
		reason = ReasonTimeExit
	} else {
		last, ok, err := s.store.LastBar(ctx, opt.ID, s.cfg.BarSize, market.Bid)
		if err != nil {
			return err
		}
		// Momentum is only judged after the leg has run to the
		// configured multiple of the entry price.
		if ok && last.High > ref.Price*s.cfg.MomentumThreshold && MomentumLost(last.Bar(), market.Long) {
			reason = ReasonMomentumLost
		}
	}
	if reason == "" {
		return nil
	}

	pnl, err := s.exec.Close(ctx, sess, ref.OrderID)
	if err != nil {
		// Key stays; the next tick retries the unwind.
		return err
	}
	if err := s.cache.Delete(ctx, s.key()); err != nil {
		return err
	}
	metrics.TradesExited.WithLabelValues(string(reason)).Inc()

	held := now.Sub(order.CreatedAt)
	subject, body := notify.ExitMessage(s.name(), string(reason), pnl, held)
	if err := s.mail.Send(ctx, subject, body); err != nil {
		s.log.Warn().Err(err).Msg("exit notification")
	}

	s.log.Info().
		Str("reason", string(reason)).
		Float64("pnl", pnl).
		Msg("secondary exited")
	return nil
}
