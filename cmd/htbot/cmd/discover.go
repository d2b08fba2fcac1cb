package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/orders"
	"github.com/rustyeddy/htbot/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Ensure the underlying and its option chain exist in the store",
	Long: `Create the configured underlying contract row if missing, qualify it
against the gateway, and pre-fetch the same-day option chain around spot.

Run once before the first serve, and each morning if chains should be warm
before the entry window opens.`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	ctx := cmd.Context()

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	underlying, err := s.GetContractBySymbol(ctx, cfg.Primary.Symbol, market.Index)
	if errors.Is(err, store.ErrNotFound) {
		id, ierr := s.InsertContract(ctx, market.Contract{
			Kind: market.Index, Symbol: cfg.Primary.Symbol,
			Exchange: cfg.Primary.Exchange, Currency: "USD", Tradeable: true,
		})
		if ierr != nil {
			return ierr
		}
		underlying, err = s.GetContract(ctx, id)
		log.Info().Str("symbol", cfg.Primary.Symbol).Msg("underlying created")
	}
	if err != nil {
		return err
	}

	sup := gateway.NewSupervisor(
		gateway.NewRestBridge(cfg.Gateway.URL),
		cfg.Gateway.Host, cfg.Gateway.Port,
		cfg.Gateway.MaxAttempts, cfg.Gateway.RetryDelayDuration(), log)

	return sup.WithSession(ctx, func(sess gateway.Session) error {
		if underlying.ConID == 0 {
			q, qerr := sess.Qualify(ctx, underlying)
			if qerr != nil {
				return qerr
			}
			if serr := s.SetConID(ctx, underlying.ID, q.ConID); serr != nil {
				return serr
			}
			underlying.ConID = q.ConID
		}

		spot, qerr := spotPrice(ctx, sess, underlying)
		if qerr != nil {
			return qerr
		}

		expiry := market.ZeroDTEExpiry(market.Now())
		chain, cerr := orders.EnsureChain(ctx, sess, s, underlying, expiry, spot, cfg.Primary.StrikeSpread, log)
		if cerr != nil {
			return cerr
		}

		fmt.Printf("%s: %d option contracts for %s around %.2f\n",
			cfg.Primary.Symbol, len(chain), expiry.Format("2006-01-02"), spot)
		return nil
	})
}

// spotPrice takes the last print, falling back to the most recent daily
// close when the market has not printed yet.
func spotPrice(ctx context.Context, sess gateway.Session, c market.Contract) (float64, error) {
	px, err := sess.Quote(ctx, c, gateway.QuoteLast)
	if err == nil && !math.IsNaN(px) && px > 0 {
		return px, nil
	}

	bars, err := sess.HistoricalBars(ctx, c, gateway.Duration{Days: 1}, 15, market.Trades, false)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, gateway.ErrPriceUnavailable
	}
	return bars[len(bars)-1].Close, nil
}
