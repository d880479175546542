package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quantcore/internal/config"
	"quantcore/internal/executor"
	"quantcore/internal/source"
	"quantcore/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func candles(n int, from int64) []source.Candle {
	step := time.Hour.Milliseconds()
	out := make([]source.Candle, n)
	for i := range n {
		open := from + int64(i)*step
		px := 100 + float64(i)
		out[i] = source.Candle{OpenTime: open, CloseTime: open + step - 1, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 1}
	}
	return out
}

type stubSource struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, req source.FetchRequest) ([]source.Candle, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	var out []source.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += time.Hour.Milliseconds() {
		out = append(out, candles(1, ts)...)
	}
	return out, nil
}

func loadConfig(t *testing.T, extra string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
app:
  log_stdout: false
data:
  root: %s
store:
  path: %s
strategies:
  - name: holder
    type: hold
    symbols: [BTCUSDT]
  - name: rsi_btc
    type: rsi
    symbols: [BTCUSDT]
    params:
      period: 3
`, filepath.Join(dir, "candles"), filepath.Join(dir, "results.db")) + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, dir
}

func seedCandles(t *testing.T, root string, n int) {
	t.Helper()
	st, err := source.NewStore(root)
	require.NoError(t, err)
	_, err = st.InsertCandles(context.Background(), "BTC/USDT", "1h", candles(n, t0))
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestBatchRunRecordsResults(t *testing.T) {
	cfg, _ := loadConfig(t, "")
	seedCandles(t, cfg.Data.Root, 8)

	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.Len(t, a.runners, 2)

	res, err := a.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Jobs, 2)
	for _, jr := range res.Jobs {
		assert.NoError(t, jr.Err)
		assert.Equal(t, 8, jr.Signals)
		assert.Equal(t, executor.ModeBatch, jr.Outcome.Mode)
	}

	runs, err := a.Results().ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, model.RunStatusDone, run.Status)
		assert.Equal(t, 8, run.Steps)
	}
}

func TestStreamRunSyncsFirst(t *testing.T) {
	cfg, _ := loadConfig(t, `
executor:
  mode: stream
  concurrency: 1
`)
	cfg.Data.Sync = true
	cfg.Data.Start = "2024-01-01"
	cfg.Data.End = "2024-01-01 05:00:00"
	src := &stubSource{}

	a, err := NewAppBuilder(cfg, WithCandleSource(src)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.syncer)

	res, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Positive(t, src.calls)
	for _, jr := range res.Jobs {
		assert.NoError(t, jr.Err)
		assert.Equal(t, 6, jr.Signals)
		assert.Equal(t, executor.ModeStream, jr.Outcome.Mode)
	}
}

func TestAsyncRunWithoutStore(t *testing.T) {
	cfg, _ := loadConfig(t, `
executor:
  mode: async
  fill: false
`)
	cfg.Store.Enabled = false
	seedCandles(t, cfg.Data.Root, 5)

	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.Results())

	res, err := a.Execute(context.Background())
	require.NoError(t, err)
	for _, jr := range res.Jobs {
		assert.NoError(t, jr.Err)
		assert.Equal(t, 5, jr.Signals)
	}
	assert.Equal(t, 0, res.Position.Len())
}

func TestBuildRejectsUnknownStrategy(t *testing.T) {
	cfg, _ := loadConfig(t, "")
	cfg.Strategies[1].Type = "martingale"
	_, err := NewAppBuilder(cfg).Build(context.Background())
	assert.ErrorContains(t, err, "martingale")
}

func TestSummaryPrint(t *testing.T) {
	cfg, _ := loadConfig(t, "")
	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var buf bytes.Buffer
	a.Summary.Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, "holder (类型: hold)")
	assert.Contains(t, out, "period = 3")
	assert.Contains(t, out, "BTC/USDT")
}
