package executor

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"quantcore/internal/history"
	"quantcore/internal/security"
	"quantcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStrategy struct{ mock.Mock }

func (m *mockStrategy) Execute(obs history.Observation, log *history.History, pos *types.Inventory) (types.Decision, error) {
	args := m.Called(obs, log, pos)
	return args.Get(0).(types.Decision), args.Error(1)
}

type memRecorder struct {
	mu       sync.Mutex
	started  []RunInfo
	steps    []StepRecord
	finished []RunInfo
}

func (r *memRecorder) RunStarted(_ context.Context, info RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info)
	return nil
}

func (r *memRecorder) RecordStep(_ context.Context, rec StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, rec)
	return nil
}

func (r *memRecorder) RunFinished(_ context.Context, info RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, info)
	return nil
}

func barSchema() history.Schema {
	return history.NewSchema([]history.Level{history.LevelDate, history.LevelSecurity}, []string{"close"}, security.NewManager())
}

func bars(t *testing.T, schema history.Schema, token string, closes ...float64) *history.History {
	t.Helper()
	h := history.Empty(schema)
	for i, c := range closes {
		require.NoError(t, h.AddRow(history.Key{time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC), token}, c))
	}
	return h
}

// momentum 买入上涨、卖出下跌，依赖日志中包含当前观测。
var momentum = StrategyFunc(func(obs history.Observation, log *history.History, _ *types.Inventory) (types.Decision, error) {
	sec, _ := obs.Security()
	closes, err := log.Get(history.LevelFilter{history.LevelSecurity: {sec}}, "close").Floats("close")
	if err != nil {
		return types.Decision{}, err
	}
	if len(closes) < 2 {
		return types.Single(types.WaitSignal()), nil
	}
	last, prev := closes[len(closes)-1], closes[len(closes)-2]
	if last > prev {
		return types.Single(types.NewSignal(types.Buy, 1, last)), nil
	}
	return types.Single(types.NewSignal(types.Sell, 1, last)), nil
})

func TestRunPreconditions(t *testing.T) {
	ctx := context.Background()
	strat := &mockStrategy{}
	e := New(strat)

	_, err := e.Run(ctx, Input{}, RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
	_, err = e.Run(ctx, BatchInput(nil), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = New(nil).Run(ctx, BatchInput(bars(t, barSchema(), "AAPL", 1)), RunOptions{})
	assert.ErrorIs(t, err, ErrNoStrategy)

	consumed := false
	seq := func(yield func(history.Observation, error) bool) { consumed = true }
	_, err = e.Run(ctx, StreamInput(seq), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInputSchema)
	_, err = e.Run(ctx, AsyncInput(NewChanSource(nil, nil)), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInputSchema)

	assert.False(t, consumed)
	assert.Equal(t, Idle, e.State())
	strat.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestBatchLogsBeforeStrategy(t *testing.T) {
	input := bars(t, barSchema(), "AAPL", 10, 11, 9)
	var seenLens []int
	strat := StrategyFunc(func(obs history.Observation, log *history.History, _ *types.Inventory) (types.Decision, error) {
		seenLens = append(seenLens, log.Len())
		last, ok := log.Row(log.Len() - 1)
		require.True(t, ok)
		assert.True(t, last.Key.Equal(obs.Key))
		return types.Single(types.WaitSignal()), nil
	})

	rec := &memRecorder{}
	e := New(strat, WithRecorder(rec), WithName("aapl"))
	out, err := e.Run(context.Background(), BatchInput(input), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, seenLens)
	assert.Equal(t, 3, out.Log.Len())
	require.Equal(t, 3, out.Output.Len())
	assert.Equal(t, []string{SignalField}, out.Output.Schema().Fields)
	assert.Equal(t, input.Schema().Levels, out.Output.Schema().Levels)
	for i := range 3 {
		inRow, _ := input.Row(i)
		outRow, _ := out.Output.Row(i)
		assert.True(t, inRow.Key.Equal(outRow.Key), "row %d", i)
	}
	assert.Equal(t, Done, e.State())
	assert.Equal(t, out.RunID, e.RunID())

	require.Len(t, rec.steps, 3)
	assert.Equal(t, 3, rec.steps[2].Seq)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, Done, rec.finished[0].State)
	assert.Equal(t, 3, rec.finished[0].Steps)
}

func TestStreamMatchesBatch(t *testing.T) {
	schema := barSchema()
	input := bars(t, schema, "AAPL", 10, 12, 11, 11, 15)

	batch, err := New(momentum).Run(context.Background(), BatchInput(input), RunOptions{})
	require.NoError(t, err)
	col, err := batch.Output.Column(SignalField)
	require.NoError(t, err)

	stream, err := New(momentum).Run(context.Background(),
		StreamInput(ObservationStream(input.Observations())), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	assert.Nil(t, stream.Output)

	var got []types.Decision
	for d, err := range stream.Signals {
		require.NoError(t, err)
		got = append(got, d)
	}
	require.Len(t, got, len(col))
	for i, d := range got {
		assert.True(t, d.EqualTo(col[i]), "signal %d: %s vs %v", i, d, col[i])
	}
	assert.Equal(t, input.Len(), stream.Log.Len())
}

func TestBatchKeepsPartialOutputOnError(t *testing.T) {
	boom := errors.New("boom")
	strat := &mockStrategy{}
	strat.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(types.Single(types.WaitSignal()), nil).Twice()
	strat.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(types.Decision{}, boom).Once()

	e := New(strat)
	out, err := e.Run(context.Background(), BatchInput(bars(t, barSchema(), "AAPL", 1, 2, 3, 4)), RunOptions{})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, out)
	assert.Equal(t, 2, out.Output.Len())
	assert.Equal(t, 3, out.Log.Len())
	assert.Equal(t, Failed, e.State())
	strat.AssertNumberOfCalls(t, "Execute", 3)
}

func TestStreamStopsOnSourceError(t *testing.T) {
	schema := barSchema()
	input := bars(t, schema, "AAPL", 1, 2)
	broken := errors.New("feed dropped")
	seq := iter.Seq2[history.Observation, error](func(yield func(history.Observation, error) bool) {
		for obs := range input.Observations() {
			if !yield(obs, nil) {
				return
			}
		}
		if !yield(history.Observation{}, broken) {
			return
		}
		yield(history.Observe(history.Key{"2024-02-01", "AAPL"}, 3.0), nil)
	})

	e := New(momentum)
	out, err := e.Run(context.Background(), StreamInput(seq), RunOptions{InputSchema: &schema})
	require.NoError(t, err)

	var n int
	var last error
	for _, err := range out.Signals {
		if err != nil {
			last = err
			continue
		}
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, last, broken)
	assert.Equal(t, 2, out.Log.Len())
	assert.Equal(t, Failed, e.State())

	for _, err := range out.Signals {
		assert.ErrorIs(t, err, ErrStreamConsumed)
	}
}

func TestAsyncCancellationStopsStrategy(t *testing.T) {
	schema := barSchema()
	input := bars(t, schema, "AAPL", 1, 2, 3)
	items := make(chan history.Observation, 3)
	for obs := range input.Observations() {
		items <- obs
	}

	strat := &mockStrategy{}
	strat.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(types.Single(types.WaitSignal()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	e := New(strat)
	out, err := e.Run(ctx, AsyncInput(NewChanSource(items, nil)), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	assert.Equal(t, Running, e.State())

	for range 2 {
		_, err := out.Async.Next(ctx)
		require.NoError(t, err)
	}
	cancel()
	_, err = out.Async.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, out.Async.Log().Len())
	assert.Len(t, items, 1)
	strat.AssertNumberOfCalls(t, "Execute", 2)
	assert.Equal(t, Failed, e.State())
}

func TestAsyncCollectUntilEOF(t *testing.T) {
	schema := barSchema()
	input := bars(t, schema, "AAPL", 5, 6, 7)
	items := make(chan history.Observation)
	go func() {
		defer close(items)
		for obs := range input.Observations() {
			items <- obs
		}
	}()

	e := New(momentum)
	out, err := e.Run(context.Background(), AsyncInput(NewChanSource(items, nil)), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	got, err := out.Async.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, Done, e.State())

	_, err = out.Async.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestChanSourceSurfacesErrors(t *testing.T) {
	errs := make(chan error, 1)
	errs <- errors.New("disconnected")
	src := NewChanSource(make(chan history.Observation), errs)
	_, err := src.Next(context.Background())
	assert.EqualError(t, err, "disconnected")
}

func TestBusyWhileAsyncRunOpen(t *testing.T) {
	schema := barSchema()
	e := New(momentum)
	out, err := e.Run(context.Background(), AsyncInput(NewChanSource(make(chan history.Observation), nil)), RunOptions{InputSchema: &schema})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), BatchInput(bars(t, schema, "AAPL", 1)), RunOptions{})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, out.Async.Close())
	assert.Equal(t, Done, e.State())
	_, err = e.Run(context.Background(), BatchInput(bars(t, schema, "AAPL", 1)), RunOptions{})
	assert.NoError(t, err)
}

func TestUnconsumedStreamLeavesExecutorIdle(t *testing.T) {
	schema := barSchema()
	rec := &memRecorder{}
	e := New(momentum, WithRecorder(rec))
	stream, err := e.Run(context.Background(),
		StreamInput(ObservationStream(bars(t, schema, "AAPL", 1, 2).Observations())), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	require.NotNil(t, stream.Signals)
	assert.Equal(t, Idle, e.State())
	assert.Empty(t, rec.started)

	out, err := e.Run(context.Background(), BatchInput(bars(t, schema, "AAPL", 1, 2, 3)), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Output.Len())
	assert.Equal(t, Done, e.State())
}

func TestStreamBusyWhenPulledDuringAsyncRun(t *testing.T) {
	schema := barSchema()
	e := New(momentum)
	stream, err := e.Run(context.Background(),
		StreamInput(ObservationStream(bars(t, schema, "AAPL", 1).Observations())), RunOptions{InputSchema: &schema})
	require.NoError(t, err)

	async, err := e.Run(context.Background(), AsyncInput(NewChanSource(make(chan history.Observation), nil)), RunOptions{InputSchema: &schema})
	require.NoError(t, err)

	var errs []error
	for _, err := range stream.Signals {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrBusy)
	assert.Equal(t, Running, e.State())
	require.NoError(t, async.Async.Close())
}

type closingSource struct {
	*ChanSource
	closed int
}

func (c *closingSource) Close() error {
	c.closed++
	return nil
}

func TestAsyncStreamClosesSource(t *testing.T) {
	schema := barSchema()
	items := make(chan history.Observation, 1)
	items <- history.Observe(history.Key{"2024-01-01", "AAPL"}, 1.0)
	src := &closingSource{ChanSource: NewChanSource(items, nil)}

	e := New(momentum)
	out, err := e.Run(context.Background(), AsyncInput(src), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	_, err = out.Async.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, src.closed)

	require.NoError(t, out.Async.Close())
	require.NoError(t, out.Async.Close())
	assert.Equal(t, 1, src.closed)

	failing := &closingSource{ChanSource: NewChanSource(make(chan history.Observation), nil)}
	out, err = e.Run(context.Background(), AsyncInput(failing), RunOptions{InputSchema: &schema})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = out.Async.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, failing.closed)
}

func TestRunGroupReleasesUnstartedSources(t *testing.T) {
	schema := barSchema()
	a := New(momentum, WithName("a"))
	src := &closingSource{ChanSource: NewChanSource(make(chan history.Observation), nil)}
	_, err := RunGroup(context.Background(), []Job{
		{Executor: a, Input: AsyncInput(src), Options: RunOptions{InputSchema: &schema}},
		{Executor: a, Input: BatchInput(bars(t, schema, "AAPL", 1))},
	}, 0)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, Idle, a.State())
}

func TestFillerUpdatesPosition(t *testing.T) {
	buyEach := StrategyFunc(func(history.Observation, *history.History, *types.Inventory) (types.Decision, error) {
		return types.Single(types.Signal{Side: types.Buy, Quantity: types.NewSignal(types.Buy, 1, 0).Quantity}), nil
	})
	rec := &memRecorder{}
	e := New(buyEach, WithFiller(MarketFiller{SlippageBps: 10}), WithRecorder(rec))
	_, err := e.Run(context.Background(), BatchInput(bars(t, barSchema(), "AAPL", 100, 200, 300)), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "3", e.Position().Quantity("AAPL").String())
	require.Len(t, rec.steps, 3)
	require.Len(t, rec.steps[0].Orders, 1)
	order := rec.steps[0].Orders[0]
	assert.True(t, order.IsFilled())
	assert.Equal(t, "100.1", order.AvgPrice().Decimal.String())
	assert.Equal(t, map[string]any{"AAPL": "3"}, rec.finished[0].Position)
}

func TestRunGroupAggregatesPositions(t *testing.T) {
	schema := barSchema()
	buy := StrategyFunc(func(obs history.Observation, _ *history.History, _ *types.Inventory) (types.Decision, error) {
		return types.Single(types.NewSignal(types.Buy, 2, 1)), nil
	})
	a := New(buy, WithName("a"), WithFiller(MarketFiller{}))
	b := New(buy, WithName("b"), WithFiller(MarketFiller{}))

	res, err := RunGroup(context.Background(), []Job{
		{Executor: a, Input: BatchInput(bars(t, schema, "AAPL", 1, 2))},
		{Executor: b, Input: StreamInput(ObservationStream(bars(t, schema, "MSFT", 1).Observations())), Options: RunOptions{InputSchema: &schema}},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Jobs[0].Signals)
	assert.Equal(t, 1, res.Jobs[1].Signals)
	assert.Equal(t, "4", res.Position.Quantity("AAPL").String())
	assert.Equal(t, "2", res.Position.Quantity("MSFT").String())

	_, err = RunGroup(context.Background(), []Job{{Executor: a}, {Executor: a}}, 0)
	assert.ErrorIs(t, err, ErrBusy)
}
