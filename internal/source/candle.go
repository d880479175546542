// Package source 负责 K 线的拉取、落地与向 History/观测流的转换。
package source

import (
	"context"
	"time"
)

// Candle 是一根 K 线，时间为 Unix 毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

func (c Candle) Time() time.Time { return time.UnixMilli(c.OpenTime).UTC() }

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int
}

// CandleSource 统一不同交易所/数据源的拉取行为。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}

// dropUnclosed 去掉尚未收盘的最后一根。
func dropUnclosed(candles []Candle, now time.Time) []Candle {
	cutoff := now.UnixMilli()
	for len(candles) > 0 && candles[len(candles)-1].CloseTime >= cutoff {
		candles = candles[:len(candles)-1]
	}
	return candles
}
