// Package config loads the engine configuration from YAML, in the same shape
// the rest of the system reads it: one section per component.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/htbot/market"
)

// Config is the complete engine configuration.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Orders     OrdersConfig     `yaml:"orders"`
	Primary    PrimaryConfig    `yaml:"primary"`
	Secondary  SecondaryConfig  `yaml:"secondary"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
}

// GatewayConfig describes the broker gateway bridge and the connection
// supervisor's retry policy.
type GatewayConfig struct {
	URL         string `yaml:"url"` // REST bridge base URL
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxAttempts int    `yaml:"max_attempts"`
	RetryDelay  string `yaml:"retry_delay"` // e.g. "5s"
}

// RetryDelayDuration parses the retry delay, defaulting to 5s.
func (g GatewayConfig) RetryDelayDuration() time.Duration {
	d, err := time.ParseDuration(g.RetryDelay)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects the coordination cache backend. An empty NATS URL runs
// the in-process cache, which is only safe for a single worker.
type CacheConfig struct {
	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
}

type SchedulerConfig struct {
	Interval string `yaml:"interval"` // beat interval, e.g. "30s"
	NATSURL  string `yaml:"nats_url"` // empty: in-process bus
}

// IntervalDuration parses the beat interval, defaulting to 30s.
func (s SchedulerConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IndicatorsConfig tunes the trend computation. Window is a bar count; it is
// deliberately not derived from the bar size (see DESIGN.md).
type IndicatorsConfig struct {
	Window    int     `yaml:"window"`    // rolling RSI window in bars
	Span      int     `yaml:"span"`      // EMA span applied to the RSI
	Threshold float64 `yaml:"threshold"` // trend flag threshold on the EMA
	TTL       string  `yaml:"ttl"`       // cache TTL for published values
}

func (i IndicatorsConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(i.TTL)
	if err != nil || d <= 0 {
		return 20 * time.Minute
	}
	return d
}

// OrdersConfig tunes the order executor's quote polling and pricing.
type OrdersConfig struct {
	Tick       float64 `yaml:"tick"`        // price increment for limit orders
	QuoteTries int     `yaml:"quote_tries"` // bounded quote poll iterations
	QuoteWait  string  `yaml:"quote_wait"`  // sleep between polls
	StatusWait string  `yaml:"status_wait"` // wait after submission
}

func (o OrdersConfig) QuoteWaitDuration() time.Duration {
	d, err := time.ParseDuration(o.QuoteWait)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

func (o OrdersConfig) StatusWaitDuration() time.Duration {
	d, err := time.ParseDuration(o.StatusWait)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// PrimaryConfig parameterizes the hedged directional strategy.
type PrimaryConfig struct {
	Symbol       string  `yaml:"symbol"`
	Exchange     string  `yaml:"exchange"`
	BarSize      int     `yaml:"bar_size"`
	EntryTime    string  `yaml:"entry_time"`
	OutTime      string  `yaml:"out_time"`
	ProfitTarget float64 `yaml:"profit_target"`
	StopLoss     float64 `yaml:"stop_loss"` // negative
	MoneyLeg     int     `yaml:"money_leg"` // ordinal in the sorted chain, 1-based
	SaverLeg     int     `yaml:"saver_leg"`
	StrikeSpread float64 `yaml:"strike_spread"` // chain discovery width around spot
}

// SecondaryConfig parameterizes the independent call/put leg strategy.
type SecondaryConfig struct {
	BarSize           int     `yaml:"bar_size"`
	EntryTime         string  `yaml:"entry_time"`
	OutTime           string  `yaml:"out_time"`
	MomentumThreshold float64 `yaml:"momentum_threshold"` // entry-price multiple
	CallLeg           int     `yaml:"call_leg"`
	PutLeg            int     `yaml:"put_leg"`
}

// SMTPConfig is the best-effort mail notification transport. Credentials
// normally come from the environment, not the YAML file.
type SMTPConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	To       string `yaml:"to"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty: metrics endpoint disabled
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency; zero values that have defaults are
// left alone.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Primary.Symbol == "" {
		return fmt.Errorf("primary.symbol is required")
	}
	if c.Primary.BarSize <= 0 {
		return fmt.Errorf("primary.bar_size must be positive")
	}
	if c.Secondary.BarSize <= 0 {
		return fmt.Errorf("secondary.bar_size must be positive")
	}
	if c.Primary.StopLoss >= 0 {
		return fmt.Errorf("primary.stop_loss must be negative")
	}
	if c.Primary.ProfitTarget <= 0 {
		return fmt.Errorf("primary.profit_target must be positive")
	}
	if c.Primary.MoneyLeg <= 0 || c.Primary.SaverLeg <= 0 {
		return fmt.Errorf("primary leg ordinals must be positive")
	}
	if c.Secondary.CallLeg <= 0 || c.Secondary.PutLeg <= 0 {
		return fmt.Errorf("secondary leg ordinals must be positive")
	}
	if c.Secondary.MomentumThreshold <= 1 {
		return fmt.Errorf("secondary.momentum_threshold must exceed 1")
	}
	for _, clock := range []string{c.Primary.EntryTime, c.Primary.OutTime, c.Secondary.EntryTime, c.Secondary.OutTime} {
		if _, err := market.ParseClock(clock); err != nil {
			return err
		}
	}
	if c.Indicators.Window <= 1 {
		return fmt.Errorf("indicators.window must exceed 1")
	}
	if c.Indicators.Span <= 1 {
		return fmt.Errorf("indicators.span must exceed 1")
	}
	if c.Orders.Tick <= 0 {
		return fmt.Errorf("orders.tick must be positive")
	}
	return nil
}

// Default returns the configuration the live system runs with.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:        "127.0.0.1",
			Port:        4002,
			MaxAttempts: 100,
			RetryDelay:  "5s",
		},
		Database: DatabaseConfig{Path: "./htbot.db"},
		Cache:    CacheConfig{Bucket: "htbot"},
		Scheduler: SchedulerConfig{
			Interval: "30s",
		},
		Indicators: IndicatorsConfig{
			Window:    60,
			Span:      144,
			Threshold: 45,
			TTL:       "20m",
		},
		Orders: OrdersConfig{
			Tick:       0.01,
			QuoteTries: 20,
			QuoteWait:  "100ms",
			StatusWait: "2s",
		},
		Primary: PrimaryConfig{
			Symbol:       "SPX",
			Exchange:     "CBOE",
			BarSize:      5,
			EntryTime:    "10:00",
			OutTime:      "15:00",
			ProfitTarget: 400,
			StopLoss:     -200,
			MoneyLeg:     2,
			SaverLeg:     10,
			StrikeSpread: 150,
		},
		Secondary: SecondaryConfig{
			BarSize:           15,
			EntryTime:         "09:30",
			OutTime:           "15:00",
			MomentumThreshold: 3,
			CallLeg:           15,
			PutLeg:            22,
		},
		LogLevel: "info",
	}
}
