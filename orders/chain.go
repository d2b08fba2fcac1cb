package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/store"
)

// EnsureChain returns the stored option chain for the underlying and expiry,
// discovering and persisting it from the gateway the first time a session day
// needs it. The discovered chain carries both rights for every strike within
// spread of spot, sorted by strike ascending.
func EnsureChain(ctx context.Context, sess gateway.Session, s *store.Store, underlying market.Contract, expiry time.Time, spot, spread float64, log zerolog.Logger) ([]market.Contract, error) {
	stored, err := s.ListOptions(ctx, underlying.ID, expiry)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}

	chains, err := sess.OptionChains(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("option chains for %s: %w", underlying.Symbol, err)
	}

	chain, ok := pickChain(chains, underlying.Symbol, expiry)
	if !ok {
		return nil, fmt.Errorf("%w: no chain covers expiry %s", gateway.ErrContractResolution, expiry.Format("20060102"))
	}

	var opts []market.Contract
	for _, strike := range chain.Strikes {
		if strike < spot-spread || strike > spot+spread {
			continue
		}
		opts = append(opts,
			market.NewOption(underlying, expiry, strike, market.Call),
			market.NewOption(underlying, expiry, strike, market.Put))
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("%w: no strikes within %.0f of %.2f", gateway.ErrContractResolution, spread, spot)
	}

	if _, err := s.InsertOptions(ctx, opts); err != nil {
		return nil, err
	}

	log.Info().
		Str("symbol", underlying.Symbol).
		Str("class", chain.TradingClass).
		Str("expiry", expiry.Format("20060102")).
		Int("contracts", len(opts)).
		Msg("option chain discovered")

	return s.ListOptions(ctx, underlying.ID, expiry)
}

// pickChain selects the chain definition to use: the weekly trading class
// (symbol + "W") when it lists the expiry, otherwise any chain that does.
func pickChain(chains []gateway.Chain, symbol string, expiry time.Time) (gateway.Chain, bool) {
	want := expiry.Format("20060102")

	covers := func(ch gateway.Chain) bool {
		for _, e := range ch.Expirations {
			if e == want {
				return true
			}
		}
		return false
	}

	for _, ch := range chains {
		if ch.TradingClass == symbol+"W" && covers(ch) {
			return ch, true
		}
	}
	for _, ch := range chains {
		if covers(ch) {
			return ch, true
		}
	}
	return gateway.Chain{}, false
}
