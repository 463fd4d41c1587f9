package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
backtest:
  drive_instrument: BTCUSDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "/data/histdata", cfg.Data.Root)
	assert.Equal(t, "binance", cfg.Fetch.Source)
	assert.Equal(t, "https://fapi.binance.com", cfg.Fetch.RESTBaseURL)
	assert.Equal(t, 15, cfg.Fetch.TimeoutSeconds)

	assert.Equal(t, "BTCUSDT", cfg.Backtest.DriveInstrument)
	assert.Equal(t, "minute", cfg.Backtest.Granularity)
	assert.Equal(t, "last_price", cfg.Backtest.MatchMode)
	assert.Equal(t, 1_000_000.0, cfg.Backtest.InitialCash)
}

func TestLoadExplicitValuesKept(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
app:
  env: prod
  log_level: debug
backtest:
  drive_instrument: BTCUSDT
  granularity: day
  match_mode: order_price
  initial_cash: 5000
  params:
    fast: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "day", cfg.Backtest.Granularity)
	assert.Equal(t, "order_price", cfg.Backtest.MatchMode)
	assert.Equal(t, 5000.0, cfg.Backtest.InitialCash)
	assert.Contains(t, cfg.Backtest.Params, "fast")
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "calendar.yaml", `
calendar:
  holidays: ["20240101"]
`)
	path := writeConfigFile(t, dir, "config.yaml", `
include:
  - calendar.yaml
backtest:
  drive_instrument: BTCUSDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101"}, cfg.Calendar.Holidays)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", `
include: [b.yaml]
`)
	writeConfigFile(t, dir, "b.yaml", `
include: [a.yaml]
`)
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing drive instrument": `
app:
  env: dev
`,
		"bad granularity": `
backtest:
  drive_instrument: BTCUSDT
  granularity: weekly
`,
		"bad match mode": `
backtest:
  drive_instrument: BTCUSDT
  match_mode: midpoint
`,
		"bad holiday": `
calendar:
  holidays: ["2024-01-01"]
backtest:
  drive_instrument: BTCUSDT
`,
		"bad backtest day": `
backtest:
  drive_instrument: BTCUSDT
  from_day: not-a-day
`,
		"bad fetch source": `
fetch:
  source: okx
backtest:
  drive_instrument: BTCUSDT
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfigFile(t, dir, "config.yaml", content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
