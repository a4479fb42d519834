package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"paper_go/internal/latency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const minimalConfig = `
engine:
  identity: alpha
  initial_cash: "50000"
  symbols: [AAPL, MSFT]
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "alpha", cfg.Engine.Identity)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, time.Minute, cfg.Checkpoint.Interval)
	assert.True(t, cfg.Checkpoint.RestoreOnStart)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "50000", ec.InitialCash.String())
	assert.Equal(t, []string{"AAPL", "MSFT"}, ec.Symbols)
	assert.True(t, ec.Latency.IsZero())
	assert.Nil(t, ec.Risk.Position)
}

func TestLoadConfig_FullEngineConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  identity: beta
  initial_cash: "1000.50"
  symbols: [BTC-USD]
  seed: 7
  latency:
    profile: custom
    submission: { min: 10ms, max: 20ms }
    fill: { min: 50ms, max: 50ms }
    cancellation: { min: 5ms, max: 5ms }
  fill:
    slippage_bps: 5
    commission_per_share: "0.01"
    max_qty_per_tick: "100"
risk:
  allow_margin: true
  position:
    max_shares: "10"
  drawdown:
    max_daily: "0.05"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ec.Seed)
	assert.Equal(t, latency.NameCustom, ec.Latency.Name)
	assert.Equal(t, 10*time.Millisecond, ec.Latency.Submission.Min)
	assert.Equal(t, "0.01", ec.Fill.CommissionPerShare.String())
	assert.Equal(t, "100", ec.Fill.MaxQtyPerTick.String())
	assert.True(t, ec.Risk.AllowMargin)
	require.NotNil(t, ec.Risk.Position)
	assert.Equal(t, "10", ec.Risk.Position.MaxShares.String())
	assert.True(t, ec.Risk.Position.MaxNotional.IsZero())
	require.NotNil(t, ec.Risk.Drawdown)
	assert.Equal(t, "0.05", ec.Risk.Drawdown.MaxDaily.String())
	assert.Nil(t, ec.Risk.Exposure)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PAPER_IDENTITY", "from-env")
	t.Setenv("PAPER_SYMBOLS", "ETH-USD, SOL-USD ,")
	t.Setenv("PAPER_SEED", "99")
	t.Setenv("PAPER_STORAGE_BACKEND", "memory")
	t.Setenv("PAPER_CHECKPOINT_INTERVAL", "15s")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Engine.Identity)
	assert.Equal(t, []string{"ETH-USD", "SOL-USD"}, cfg.Engine.Symbols)
	assert.Equal(t, uint64(99), cfg.Engine.Seed)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 15*time.Second, cfg.Checkpoint.Interval)
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("PAPER_SEED", "not-a-number")
	_, err := LoadConfig(writeConfig(t, minimalConfig))
	assert.Error(t, err)
}

func TestLoadConfig_SecretsFile(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secrets, []byte("storage:\n  redis_password: hunter2\n"), 0600))

	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
storage:
  backend: redis
  redis_addr: localhost:6379
  secrets_file: `+secrets+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Storage.RedisPassword)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing identity", `
engine:
  identity: ""
  symbols: [AAPL]
`},
		{"no symbols", `
engine:
  identity: x
`},
		{"duplicate symbols", `
engine:
  identity: x
  symbols: [AAPL, AAPL]
`},
		{"bad cash", `
engine:
  identity: x
  initial_cash: "12abc"
  symbols: [AAPL]
`},
		{"negative cash", `
engine:
  identity: x
  initial_cash: "-1"
  symbols: [AAPL]
`},
		{"unknown latency profile", `
engine:
  identity: x
  symbols: [AAPL]
  latency: { profile: warp }
`},
		{"inverted custom range", `
engine:
  identity: x
  symbols: [AAPL]
  latency:
    profile: custom
    fill: { min: 2s, max: 1s }
`},
		{"negative risk limit", `
engine:
  identity: x
  symbols: [AAPL]
risk:
  position: { max_shares: "-5" }
`},
		{"redis without addr", `
engine:
  identity: x
  symbols: [AAPL]
storage:
  backend: redis
`},
		{"unknown backend", `
engine:
  identity: x
  symbols: [AAPL]
storage:
  backend: floppy
`},
		{"identity with slash", `
engine:
  identity: a/b
  symbols: [AAPL]
`},
		{"burst without rate", minimalConfig + `
server:
  order_burst: 5
`},
		{"bad log format", minimalConfig + `
logging:
  format: xml
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_RepoDefaultFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	_, err = cfg.EngineConfig()
	assert.NoError(t, err)
}
