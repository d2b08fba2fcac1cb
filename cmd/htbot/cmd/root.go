package cmd

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/htbot/config"
)

var rootCmd = &cobra.Command{
	Use:   "htbot",
	Short: "An intraday index-options trading engine",
	Long: `htbot ingests index price bars, computes a trend signal, and drives
hedged option entries and exits against a brokerage gateway.

Independent periodic jobs coordinate through a shared cache, so workers can
run on separate processes without stepping on each other's trades.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "htbot.yaml", "path to config file (YAML)")
}

// loadConfig reads the .env file (if any) and the YAML config.
func loadConfig() (*config.Config, error) {
	// Missing .env is fine; secrets may come from the real environment.
	godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// SMTP credentials override from the environment so they stay out of
	// the config file.
	if v := os.Getenv("HTBOT_SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("HTBOT_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	return cfg, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
