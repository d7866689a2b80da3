package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "simulator", cfg.MarketData.Source)
	assert.Equal(t, "gtc", cfg.Trading.DefaultTimeInForce)
	assert.True(t, cfg.Trading.Commission().Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, time.Second, cfg.MarketData.TickInterval)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
marketdata:
  source: bridge
  bridge_url: ws://bridge:8765
  symbols: [EURUSD]
trading:
  commission_rate: "0.002"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TRADECORE_SERVER_PORT", "9191")
	t.Setenv("TRADECORE_DATABASE_DRIVER", "postgres")
	t.Setenv("TRADECORE_DATABASE_DSN", "host=db user=trade")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=trade", cfg.Database.DSN)
	assert.Equal(t, "bridge", cfg.MarketData.Source)
	assert.Equal(t, []string{"EURUSD"}, cfg.MarketData.Symbols)
	assert.True(t, cfg.Trading.Commission().Equal(decimal.RequireFromString("0.002")))
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("TRADECORE_DATABASE_DRIVER", "mysql")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateNegativeCommission(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.CommissionRate = "-0.1"
	assert.Error(t, cfg.Validate())
}
