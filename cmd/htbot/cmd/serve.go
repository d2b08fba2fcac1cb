package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/htbot/config"
	"github.com/rustyeddy/htbot/coord"
	"github.com/rustyeddy/htbot/gateway"
	"github.com/rustyeddy/htbot/indicators"
	"github.com/rustyeddy/htbot/ingest"
	"github.com/rustyeddy/htbot/market"
	"github.com/rustyeddy/htbot/metrics"
	"github.com/rustyeddy/htbot/notify"
	"github.com/rustyeddy/htbot/orders"
	"github.com/rustyeddy/htbot/sched"
	"github.com/rustyeddy/htbot/store"
	"github.com/rustyeddy/htbot/strategies"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the beat and the strategy workers",
	Long: `Start the full engine: a beat publishes the check job on the configured
interval, the check job fans out to the strategy jobs, and each job acquires
its own gateway session, ingests bars, and evaluates its state machine.

Example:
  htbot serve -f htbot.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	cache, err := openCache(cfg)
	if err != nil {
		return err
	}

	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	sup := gateway.NewSupervisor(
		gateway.NewRestBridge(cfg.Gateway.URL),
		cfg.Gateway.Host, cfg.Gateway.Port,
		cfg.Gateway.MaxAttempts, cfg.Gateway.RetryDelayDuration(), log)

	mail := newNotifier(cfg, log)
	filler := ingest.New(s, log)
	engine := indicators.NewEngine(s, cache,
		cfg.Indicators.Window, cfg.Indicators.Span, cfg.Indicators.Threshold,
		cfg.Indicators.TTLDuration(), log)
	exec := orders.NewExecutor(s, cache,
		cfg.Orders.Tick, cfg.Orders.QuoteTries,
		cfg.Orders.QuoteWaitDuration(), cfg.Orders.StatusWaitDuration(), log)

	primary, err := strategies.NewPrimary(s, cache, filler, engine, exec, mail,
		cfg.Primary, cfg.Indicators.TTLDuration(), log)
	if err != nil {
		return err
	}
	secCall, err := strategies.NewSecondary(s, cache, filler, exec, mail,
		cfg.Secondary, market.Call, cfg.Primary.Symbol, cfg.Primary.StrikeSpread, log)
	if err != nil {
		return err
	}
	secPut, err := strategies.NewSecondary(s, cache, filler, exec, mail,
		cfg.Secondary, market.Put, cfg.Primary.Symbol, cfg.Primary.StrikeSpread, log)
	if err != nil {
		return err
	}

	runner := sched.NewRunner(bus, log)
	runner.Register("check", sched.FanOut(bus, "primary", "secondary-call", "secondary-put"))
	runner.Register("primary", func(ctx context.Context) error {
		return sup.WithSession(ctx, func(sess gateway.Session) error {
			return primary.Tick(ctx, sess)
		})
	})
	runner.Register("secondary-call", func(ctx context.Context) error {
		return sup.WithSession(ctx, func(sess gateway.Session) error {
			return secCall.Check(ctx, sess)
		})
	})
	runner.Register("secondary-put", func(ctx context.Context) error {
		return sup.WithSession(ctx, func(sess gateway.Session) error {
			return secPut.Check(ctx, sess)
		})
	})
	if err := runner.Start(); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("metrics endpoint")
			}
		}()
	}

	log.Info().
		Str("symbol", cfg.Primary.Symbol).
		Dur("interval", cfg.Scheduler.IntervalDuration()).
		Msg("engine started")

	sched.Beat(ctx, bus, cfg.Scheduler.IntervalDuration(), "check", log)
	log.Info().Msg("engine stopped")
	return nil
}

func openCache(cfg *config.Config) (coord.Cache, error) {
	if cfg.Cache.NATSURL == "" {
		return coord.NewMemory(), nil
	}
	conn, err := nats.Connect(cfg.Cache.NATSURL, nats.Name("htbot-cache"))
	if err != nil {
		return nil, fmt.Errorf("connect cache: %w", err)
	}
	// The bucket max-age is a backstop; per-key TTLs do the real expiry.
	return coord.NewNATSKV(conn, cfg.Cache.Bucket, 24*time.Hour)
}

func openBus(cfg *config.Config) (sched.Bus, error) {
	if cfg.Scheduler.NATSURL == "" {
		return sched.NewInproc(), nil
	}
	return sched.ConnectBus(cfg.Scheduler.NATSURL)
}

func newNotifier(cfg *config.Config, log zerolog.Logger) notify.Notifier {
	if cfg.SMTP.Server == "" {
		return notify.Noop{}
	}
	return notify.NewMailer(cfg.SMTP.Server, cfg.SMTP.Port,
		cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.To, log)
}
