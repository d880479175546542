package strategy

import (
	"context"
	"testing"
	"time"

	"quantcore/internal/executor"
	"quantcore/internal/history"
	"quantcore/internal/security"
	"quantcore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barLog(t *testing.T, token string, closes ...float64) *history.History {
	t.Helper()
	schema := history.NewSchema([]history.Level{history.LevelDate, history.LevelSecurity}, []string{"close"}, security.NewManager())
	h := history.Empty(schema)
	for i, c := range closes {
		require.NoError(t, h.AddRow(history.Key{time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC), token}, c))
	}
	return h
}

func lastObservation(h *history.History) history.Observation {
	var last history.Observation
	for obs := range h.Observations() {
		last = obs
	}
	return last
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range n {
		out[i] = start + step*float64(i)
	}
	return out
}

func mustSignal(t *testing.T, d types.Decision) types.Signal {
	t.Helper()
	s, ok := d.Signal()
	require.True(t, ok)
	return s
}

func TestIndicatorsNeedEnoughData(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)
	_, ok = EMA([]float64{1, 2}, 5)
	assert.False(t, ok)
	_, ok = Bollinger([]float64{1, 2, 3}, 5, 2)
	assert.False(t, ok)
	_, _, _, ok = MACD(ramp(1, 1, 20), 12, 26, 9)
	assert.False(t, ok)
}

func TestIndicatorValues(t *testing.T) {
	rsi, ok := RSI(ramp(100, -1, 20), 14)
	require.True(t, ok)
	assert.InDelta(t, 0, rsi, 1e-9)

	rsi, ok = RSI(ramp(100, 1, 20), 14)
	require.True(t, ok)
	assert.InDelta(t, 100, rsi, 1e-9)

	bands, ok := Bollinger([]float64{10, 10, 10, 10, 20}, 5, 1.5)
	require.True(t, ok)
	assert.InDelta(t, 12, bands.Middle, 1e-9)
	assert.InDelta(t, 18, bands.Upper, 1e-9)
	assert.InDelta(t, 6, bands.Lower, 1e-9)

	ema, ok := EMA([]float64{5, 5, 5, 5, 5, 5}, 3)
	require.True(t, ok)
	assert.InDelta(t, 5, ema, 1e-9)

	macd, _, _, ok := MACD(ramp(1, 1, 60), 12, 26, 9)
	require.True(t, ok)
	assert.Greater(t, macd, 0.0)
}

func TestRSIStrategy(t *testing.T) {
	s, err := NewRSI(map[string]any{"period": 14, "quantity": "2"})
	require.NoError(t, err)

	log := barLog(t, "AAPL", ramp(100, -1, 20)...)
	d, err := s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	sig := mustSignal(t, d)
	assert.Equal(t, types.Buy, sig.Side)
	assert.True(t, sig.Quantity.Decimal.Equal(decimal.NewFromInt(2)))
	assert.True(t, sig.Price.Decimal.Equal(decimal.NewFromInt(81)))

	// 超买但未持仓且不允许做空：不操作
	log = barLog(t, "AAPL", ramp(100, 1, 20)...)
	d, err = s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.True(t, mustSignal(t, d).IsWait())

	// 持有多头时平仓
	pos := types.NewInventory()
	pos.Set("AAPL", decimal.NewFromInt(3))
	d, err = s.Execute(lastObservation(log), log, pos)
	require.NoError(t, err)
	sig = mustSignal(t, d)
	assert.Equal(t, types.Sell, sig.Side)
	assert.True(t, sig.Quantity.Decimal.Equal(decimal.NewFromInt(3)))
}

func TestRSIStrategyShort(t *testing.T) {
	s, err := NewRSI(map[string]any{"allow_short": true})
	require.NoError(t, err)
	log := barLog(t, "AAPL", ramp(100, 1, 20)...)
	d, err := s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	sig := mustSignal(t, d)
	assert.Equal(t, types.Sell, sig.Side)
	assert.True(t, sig.Quantity.Decimal.Equal(decimal.NewFromInt(1)))
}

func TestRSIStrategyUsesOnlyOwnSecurity(t *testing.T) {
	s, err := NewRSI(nil)
	require.NoError(t, err)
	log := barLog(t, "AAPL", ramp(100, -1, 20)...)
	require.NoError(t, log.AddRow(history.Key{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "MSFT"}, 50.0))
	d, err := s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.True(t, mustSignal(t, d).IsWait())
}

func TestBollingerStrategy(t *testing.T) {
	s, err := NewBollinger(map[string]any{"period": 5, "k": 1.5, "allow_short": true})
	require.NoError(t, err)

	spike := append(ramp(10, 0, 10), 20)
	log := barLog(t, "BTC/USDT", spike...)
	d, err := s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.Equal(t, types.Sell, mustSignal(t, d).Side)

	drop := append(ramp(10, 0, 10), 0)
	log = barLog(t, "BTC/USDT", drop...)
	d, err = s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.Equal(t, types.Buy, mustSignal(t, d).Side)

	flat := ramp(10, 0, 10)
	log = barLog(t, "BTC/USDT", flat...)
	d, err = s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.True(t, mustSignal(t, d).IsWait())
}

func TestEMACrossStrategy(t *testing.T) {
	s, err := NewEMACross(map[string]any{"fast": 3, "slow": 6})
	require.NoError(t, err)
	// 长时间下跌后急涨，快线在最后一根上穿慢线
	closes := append(ramp(20, -1, 12), 40)
	log := barLog(t, "ETH/USDT", closes...)
	d, err := s.Execute(lastObservation(log), log, types.NewInventory())
	require.NoError(t, err)
	assert.Equal(t, types.Buy, mustSignal(t, d).Side)
}

func TestFactoryValidation(t *testing.T) {
	_, err := NewRSI(map[string]any{"oversold": 80, "overbought": 20})
	assert.Error(t, err)
	_, err = NewBollinger(map[string]any{"k": -1})
	assert.Error(t, err)
	_, err = NewEMACross(map[string]any{"fast": 10, "slow": 5})
	assert.Error(t, err)
	_, err = NewRSI(map[string]any{"quantity": 0})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"bollinger", "ema_cross", "hold", "rsi"}, Default().Names())

	s, err := Build(" RSI ", nil)
	require.NoError(t, err)
	assert.IsType(t, &RSIStrategy{}, s)

	_, err = Build("martingale", nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	r := NewRegistry()
	assert.Panics(t, func() { r.Register("", nil) })
}

func TestStrategyUnderExecutor(t *testing.T) {
	s, err := Build("rsi", map[string]any{"period": 5})
	require.NoError(t, err)
	input := barLog(t, "AAPL", ramp(100, -1, 10)...)

	exec := executor.New(s, executor.WithName("rsi"), executor.WithFiller(&executor.MarketFiller{}))
	out, err := exec.Run(context.Background(), executor.BatchInput(input), executor.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 10, out.Output.Len())
	assert.True(t, exec.Position().Quantity("AAPL").Equal(decimal.NewFromInt(1)))
}
