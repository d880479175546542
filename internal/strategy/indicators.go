package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// 中文说明：
// 技术指标计算：EMA、MACD、RSI、布林带，底层为 go-talib。
// 输入为收盘价序列（float64 切片），返回最新值；数据不足时 ok=false。

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i], true
		}
	}
	return 0, false
}

// EMA 最近值（len(prices)>=period）。
func EMA(prices []float64, period int) (float64, bool) {
	prices = sanitizeSeries(prices)
	if period <= 1 || len(prices) < period {
		return 0, false
	}
	return lastValid(talib.Ema(prices, period))
}

// MACD 返回 (macd, signal, hist) 的最近值。
func MACD(prices []float64, fast, slow, signal int) (float64, float64, float64, bool) {
	prices = sanitizeSeries(prices)
	if fast <= 0 || slow <= fast || signal <= 0 || len(prices) < slow+signal {
		return 0, 0, 0, false
	}
	macd, sig, hist := talib.Macd(prices, fast, slow, signal)
	m, ok1 := lastValid(macd)
	s, ok2 := lastValid(sig)
	h, ok3 := lastValid(hist)
	return m, s, h, ok1 && ok2 && ok3
}

// RSI（Wilder），需要 period+1 个点。
func RSI(prices []float64, period int) (float64, bool) {
	prices = sanitizeSeries(prices)
	if period <= 1 || len(prices) <= period {
		return 0, false
	}
	return lastValid(talib.Rsi(prices, period))
}

// Bands 是一组布林带读数。
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger 以 SMA 为中轨，k 倍总体标准差为带宽。
func Bollinger(prices []float64, period int, k float64) (Bands, bool) {
	prices = sanitizeSeries(prices)
	if period <= 1 || len(prices) < period || k <= 0 {
		return Bands{}, false
	}
	upper, middle, lower := talib.BBands(prices, period, k, k, talib.SMA)
	u, ok1 := lastValid(upper)
	m, ok2 := lastValid(middle)
	l, ok3 := lastValid(lower)
	return Bands{Upper: u, Middle: m, Lower: l}, ok1 && ok2 && ok3
}
