package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const baseYAML = `
include:
  - strategies.yaml
app:
  log_level: info
securities:
  symbols: [btcusdt, "ETH/USDT"]
data:
  start: "2024-01-01"
  end: "2024-02-01"
store:
  enabled: false
`

const strategiesYAML = `
strategies:
  - type: RSI
    params:
      period: 14
      allow_short: true
  - name: bands
    type: bollinger
    symbols: [solusdt]
`

func TestLoadWithIncludesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "strategies.yaml", strategiesYAML)
	path := writeFile(t, dir, "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, defaultAppLogPath, cfg.App.LogPath)
	assert.True(t, cfg.App.LogStdout)
	assert.Equal(t, []string{"DATE", "SECURITY"}, cfg.History.Levels)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Securities.Symbols)
	assert.Equal(t, "keep_first", cfg.Securities.MergePolicy)
	assert.Equal(t, defaultDataRoot, cfg.Data.Root)
	assert.Equal(t, "1h", cfg.Data.Timeframe)
	assert.Equal(t, "batch", cfg.Executor.Mode)
	assert.True(t, cfg.Executor.Fill)
	assert.Equal(t, "close", cfg.Executor.PriceField)
	assert.False(t, cfg.Store.Enabled, "explicit false must survive defaults")
	assert.Equal(t, defaultBinanceREST, cfg.Binance.RESTBaseURL)

	require.Len(t, cfg.Strategies, 2)
	rsi := cfg.Strategies[0]
	assert.Equal(t, "rsi", rsi.Type)
	assert.Equal(t, "rsi_0", rsi.Name)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, rsi.Symbols)
	assert.EqualValues(t, 14, rsi.Params["period"])
	assert.Equal(t, true, rsi.Params["allow_short"])
	assert.Equal(t, []string{"SOL/USDT"}, cfg.Strategies[1].Symbols)

	start, end, err := cfg.Data.Range(time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), end)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "strategies.yaml", strategiesYAML)
	path := writeFile(t, dir, "config.yaml", baseYAML)
	t.Setenv("QUANTCORE_APP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "include cycle detected: b.yaml -> a.yaml -> b.yaml")
}

func TestIncludeAcceptsSingleStringAndRecordsFiles(t *testing.T) {
	dir := t.TempDir()
	shared := writeFile(t, dir, "shared.yaml", "app:\n  log_level: warn\nexecutor:\n  concurrency: 2\n")
	strategies := writeFile(t, dir, "strategies.yaml", "include: shared.yaml\n"+strategiesYAML)
	path := writeFile(t, dir, "config.yaml", "include: [strategies.yaml, shared.yaml]\nsecurities:\n  symbols: [btcusdt]\nexecutor:\n  concurrency: 8\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{shared, strategies, path}, cfg.Files)
	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, 8, cfg.Executor.Concurrency, "including file overrides its includes")
	assert.Len(t, cfg.Strategies, 2)

	writeFile(t, dir, "bad.yaml", "include: {a: 1}\n")
	_, err = Load(filepath.Join(dir, "bad.yaml"))
	assert.ErrorContains(t, err, "include must be a string or string array")
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"mode":       "executor:\n  mode: turbo\n",
		"levels":     "history:\n  levels: [DATE, SECURITY, DATE]\n",
		"exchange":   "history:\n  levels: [DATE, SECURITY, EXCHANGE]\n",
		"timeframe":  "data:\n  timeframe: 2h\n",
		"sync":       "data:\n  sync: true\n",
		"merge":      "securities:\n  merge_policy: newest\n",
		"slippage":   "executor:\n  slippage_bps: -1\n",
		"store_path": "store:\n  enabled: true\n  path: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", body+"strategies:\n  - type: hold\n    symbols: [AAPL]\n")
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "strategies")
}

func TestDataRange(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	start, end, err := DataConfig{Start: "2024-04-30 12:00:00"}.Range(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-12*time.Hour).UnixMilli(), start)
	assert.Equal(t, now.UnixMilli(), end)

	_, _, err = DataConfig{Start: "2024-05-02", End: "2024-05-01"}.Range(now)
	assert.Error(t, err)
	_, _, err = DataConfig{Start: "yesterday"}.Range(now)
	assert.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("1w"))
	assert.False(t, IsValidInterval("h"))
	assert.False(t, IsValidInterval("1y"))
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	body := "strategies:\n  - type: hold\n    symbols: [AAPL]\n"
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n"+body)

	w, err := Watch(path)
	require.NoError(t, err)
	assert.Equal(t, "info", w.Current().App.LogLevel)

	got := make(chan *Config, 4)
	w.Subscribe(func(c *Config) { got <- c })

	writeFile(t, dir, "config.yaml", "app:\n  log_level: warn\n"+body)
	require.NoError(t, w.reload())
	w.notify()
	assert.Equal(t, "warn", w.Current().App.LogLevel)
	assert.GreaterOrEqual(t, w.Version(), 2)

	select {
	case c := <-got:
		assert.Equal(t, "warn", c.App.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	// 非法配置不替换当前配置
	writeFile(t, dir, "config.yaml", "executor:\n  mode: turbo\n"+body)
	assert.Error(t, w.reload())
	assert.Equal(t, "warn", w.Current().App.LogLevel)
}
