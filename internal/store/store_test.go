package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quantcore/internal/executor"
	"quantcore/internal/history"
	"quantcore/internal/security"
	"quantcore/internal/store/model"
	"quantcore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(filepath.Join(t.TempDir(), "results", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func closes(t *testing.T, values ...float64) *history.History {
	t.Helper()
	schema := history.NewSchema([]history.Level{history.LevelDate, history.LevelSecurity}, []string{"close"}, security.NewManager())
	h := history.Empty(schema)
	for i, v := range values {
		require.NoError(t, h.AddRow(history.Key{time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC), "AAPL"}, v))
	}
	return h
}

// buyOnce 第一根买入 2 股，之后观望。
var buyOnce = executor.StrategyFunc(func(obs history.Observation, _ *history.History, pos *types.Inventory) (types.Decision, error) {
	if pos.Quantity("AAPL").IsZero() {
		return types.Single(types.Signal{Side: types.Buy, Quantity: decimal.NewNullDecimal(decimal.NewFromInt(2))}), nil
	}
	return types.Single(types.WaitSignal()), nil
})

func TestRecordsExecutorRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	exec := executor.New(buyOnce,
		executor.WithName("buy-once"),
		executor.WithRecorder(s),
		executor.WithFiller(executor.MarketFiller{}),
	)
	out, err := exec.Run(ctx, executor.BatchInput(closes(t, 10, 11, 12)), executor.RunOptions{})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "buy-once", run.Executor)
	assert.Equal(t, model.RunStatusDone, run.Status)
	assert.Equal(t, 3, run.Steps)
	assert.Equal(t, "batch", run.Mode)
	assert.False(t, run.FinishedAt.IsZero())

	signals, err := s.ListSignals(ctx, out.RunID)
	require.NoError(t, err)
	require.Len(t, signals, 3)
	assert.Equal(t, "AAPL", signals[0].Security)
	assert.Equal(t, "BUY", signals[0].Side)
	assert.Equal(t, "WAIT", signals[1].Side)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), signals[0].ObservedAt)
	assert.JSONEq(t, `{"close": 10}`, string(signals[0].ValuesJSON))

	orders, err := s.ListOrders(ctx, out.RunID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "2", orders[0].Filled)
	assert.Equal(t, "10", orders[0].AvgPrice)
	assert.InDelta(t, 20, orders[0].Notional, 1e-9)

	decisions, err := s.Decisions(ctx, out.RunID)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	for i, row := range out.Output.Rows() {
		assert.True(t, decisions[i].EqualTo(row.Values[0]), "step %d", i)
	}

	pos, err := s.Position(ctx, out.RunID)
	require.NoError(t, err)
	assert.True(t, pos.Equal(exec.Position()))
}

func TestRecordsFailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")
	calls := 0
	exec := executor.New(executor.StrategyFunc(func(history.Observation, *history.History, *types.Inventory) (types.Decision, error) {
		calls++
		if calls == 2 {
			return types.Decision{}, boom
		}
		return types.Single(types.WaitSignal()), nil
	}), executor.WithRecorder(s))

	out, err := exec.Run(ctx, executor.BatchInput(closes(t, 1, 2, 3)), executor.RunOptions{})
	require.ErrorIs(t, err, boom)

	run, err := s.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "boom")
	assert.Equal(t, 1, run.Steps)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMissingRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, run)

	assert.Error(t, s.RunFinished(ctx, executor.RunInfo{ID: "nope", State: executor.Done}))
	_, err = s.Position(ctx, "nope")
	assert.Error(t, err)
}
