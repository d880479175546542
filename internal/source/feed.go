package source

import (
	"context"
	"fmt"
	"iter"

	"quantcore/internal/executor"
	"quantcore/internal/history"
	"quantcore/internal/security"
)

// CandleFields 是 K 线在 History 中的字段顺序。
var CandleFields = []string{"open", "high", "low", "close", "volume"}

var candleLevels = []history.Level{history.LevelDate, history.LevelSecurity, history.LevelInterval}

// CandleSchema 返回 (DATE, SECURITY[, INTERVAL]) 层级的 K 线 schema。
func CandleSchema(securities *security.Manager, withInterval bool) history.Schema {
	levels := []history.Level{history.LevelDate, history.LevelSecurity}
	if withInterval {
		levels = append(levels, history.LevelInterval)
	}
	return history.NewSchema(levels, CandleFields, securities)
}

// CandleFrame 将一组 K 线转为原始表；schema 只取自己需要的层级与字段。
func CandleFrame(symbol string, tf Timeframe, candles []Candle) history.Frame {
	rows := make([]history.Row, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, history.Row{
			Key:    history.Key{c.Time(), symbol, tf.Key},
			Values: []any{c.Open, c.High, c.Low, c.Close, c.Volume},
		})
	}
	return history.Frame{Levels: candleLevels, Fields: CandleFields, Rows: rows}
}

func ToHistory(schema history.Schema, symbol string, tf Timeframe, candles []Candle) (*history.History, error) {
	return history.New(schema, CandleFrame(symbol, tf, candles))
}

// Loader 从 Store 读取多个 symbol 并合并为按 key 排序的 History。
type Loader struct {
	store  *Store
	schema history.Schema
	tf     Timeframe
}

func NewLoader(store *Store, schema history.Schema, tf Timeframe) *Loader {
	return &Loader{store: store, schema: schema, tf: tf}
}

func (l *Loader) Schema() history.Schema { return l.schema }

// Load 读取 [start,end]；二者均为 0 时读取全部。
func (l *Loader) Load(ctx context.Context, symbols []string, start, end int64) (*history.History, error) {
	out := history.Empty(l.schema)
	for _, sym := range symbols {
		candles, err := l.store.RangeCandles(ctx, sym, l.tf.Key, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", sym, l.tf.Key, err)
		}
		h, err := ToHistory(l.schema, sym, l.tf, candles)
		if err != nil {
			return nil, fmt.Errorf("convert %s %s: %w", sym, l.tf.Key, err)
		}
		if err := out.Extend(h); err != nil {
			return nil, err
		}
	}
	out.SortByKey()
	return out, nil
}

// Stream 以同步序列产出观测，ctx 取消或读取失败时产出错误并结束。
func (l *Loader) Stream(ctx context.Context, symbols []string, start, end int64) iter.Seq2[history.Observation, error] {
	return func(yield func(history.Observation, error) bool) {
		h, err := l.Load(ctx, symbols, start, end)
		if err != nil {
			yield(history.Observation{}, err)
			return
		}
		for obs := range h.Observations() {
			if err := ctx.Err(); err != nil {
				yield(history.Observation{}, err)
				return
			}
			if !yield(obs, nil) {
				return
			}
		}
	}
}

// Feed 在后台消费 seq 并通过 channel 交给异步执行；ctx 取消或返回的源被 Close 后停止推送。
func Feed(ctx context.Context, seq iter.Seq2[history.Observation, error]) *executor.ChanSource {
	ctx, cancel := context.WithCancel(ctx)
	items := make(chan history.Observation)
	errs := make(chan error, 1)
	go func() {
		defer cancel()
		defer close(errs)
		for obs, err := range seq {
			if err != nil {
				// items 保持打开，保证消费端先拿到错误
				errs <- err
				return
			}
			select {
			case items <- obs:
			case <-ctx.Done():
				return
			}
		}
		close(items)
	}()
	return executor.NewChanSource(items, errs).WithStop(cancel)
}
