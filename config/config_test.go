package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htbot.yaml")
	doc := `
database:
  path: /tmp/test.db
scheduler:
  interval: 10s
primary:
  profit_target: 500
indicators:
  window: 48
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.IntervalDuration())
	assert.Equal(t, 500.0, cfg.Primary.ProfitTarget)
	assert.Equal(t, 48, cfg.Indicators.Window)
	// Untouched sections keep their defaults.
	assert.Equal(t, -200.0, cfg.Primary.StopLoss)
	assert.Equal(t, "SPX", cfg.Primary.Symbol)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Primary.StopLoss = 50
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Primary.EntryTime = "not-a-time"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Secondary.MomentumThreshold = 1
	assert.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	g := GatewayConfig{RetryDelay: "bogus"}
	assert.Equal(t, 5*time.Second, g.RetryDelayDuration())

	s := SchedulerConfig{}
	assert.Equal(t, 30*time.Second, s.IntervalDuration())

	i := IndicatorsConfig{TTL: "20m"}
	assert.Equal(t, 20*time.Minute, i.TTLDuration())
}
