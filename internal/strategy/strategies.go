package strategy

import (
	"fmt"

	"quantcore/internal/executor"
	"quantcore/internal/history"
	"quantcore/internal/pkg/maputil"
	"quantcore/internal/types"

	"github.com/shopspring/decimal"
)

// Sizing 是各策略共用的下单参数。
type Sizing struct {
	Field      string
	Quantity   decimal.Decimal
	AllowShort bool
}

func sizingFromParams(params map[string]any) (Sizing, error) {
	qty := maputil.FloatOr(params, "quantity", 1)
	if qty <= 0 {
		return Sizing{}, fmt.Errorf("quantity must be positive, got %v", qty)
	}
	return Sizing{
		Field:      maputil.StringOr(params, "field", "close"),
		Quantity:   decimal.NewFromFloat(qty),
		AllowShort: maputil.Bool(params, "allow_short"),
	}, nil
}

// series 取当前观测所属证券在日志中的字段序列（日志已包含当前观测）。
func series(obs history.Observation, log *history.History, field string) ([]float64, error) {
	var filters history.LevelFilter
	if sec, ok := obs.Security(); ok {
		filters = history.LevelFilter{history.LevelSecurity: {sec}}
	}
	return log.Get(filters, field).Floats(field)
}

func positionToken(obs history.Observation) string {
	if sec, ok := obs.Security(); ok {
		return sec.Symbol
	}
	return ""
}

func priced(side types.Side, qty decimal.Decimal, price float64) types.Decision {
	return types.Single(types.Signal{
		Side:     side,
		Quantity: decimal.NewNullDecimal(qty),
		Price:    decimal.NewNullDecimal(decimal.NewFromFloat(price)),
	})
}

func wait() types.Decision { return types.Single(types.WaitSignal()) }

// enter 处理做多信号：有空头先平仓，空仓时开多，已有多头时不加仓。
func (s Sizing) enter(held decimal.Decimal, price float64) types.Decision {
	switch {
	case held.IsNegative():
		return priced(types.Buy, held.Neg(), price)
	case held.IsZero():
		return priced(types.Buy, s.Quantity, price)
	default:
		return wait()
	}
}

// exit 处理做空信号：有多头先平仓，空仓且允许做空时开空。
func (s Sizing) exit(held decimal.Decimal, price float64) types.Decision {
	switch {
	case held.IsPositive():
		return priced(types.Sell, held, price)
	case held.IsZero() && s.AllowShort:
		return priced(types.Sell, s.Quantity, price)
	default:
		return wait()
	}
}

// Hold 从不交易。
type Hold struct{}

func (Hold) Execute(history.Observation, *history.History, *types.Inventory) (types.Decision, error) {
	return wait(), nil
}

// RSIStrategy 超卖买入、超买卖出。
type RSIStrategy struct {
	Sizing
	Period     int
	Oversold   float64
	Overbought float64
}

func NewRSI(params map[string]any) (executor.Strategy, error) {
	sizing, err := sizingFromParams(params)
	if err != nil {
		return nil, err
	}
	s := &RSIStrategy{
		Sizing:     sizing,
		Period:     maputil.IntOr(params, "period", 14),
		Oversold:   maputil.FloatOr(params, "oversold", 30),
		Overbought: maputil.FloatOr(params, "overbought", 70),
	}
	if s.Period < 2 {
		return nil, fmt.Errorf("rsi period must be >= 2, got %d", s.Period)
	}
	if s.Oversold >= s.Overbought {
		return nil, fmt.Errorf("rsi oversold %.2f must be below overbought %.2f", s.Oversold, s.Overbought)
	}
	return s, nil
}

func (s *RSIStrategy) Execute(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error) {
	closes, err := series(obs, log, s.Field)
	if err != nil {
		return types.Decision{}, err
	}
	rsi, ok := RSI(closes, s.Period)
	if !ok {
		return wait(), nil
	}
	price := closes[len(closes)-1]
	held := position.Quantity(positionToken(obs))
	switch {
	case rsi <= s.Oversold:
		return s.enter(held, price), nil
	case rsi >= s.Overbought:
		return s.exit(held, price), nil
	}
	return wait(), nil
}

// BollingerStrategy 跌破下轨买入，突破上轨卖出。
type BollingerStrategy struct {
	Sizing
	Period int
	K      float64
}

func NewBollinger(params map[string]any) (executor.Strategy, error) {
	sizing, err := sizingFromParams(params)
	if err != nil {
		return nil, err
	}
	s := &BollingerStrategy{
		Sizing: sizing,
		Period: maputil.IntOr(params, "period", 20),
		K:      maputil.FloatOr(params, "k", 2),
	}
	if s.Period < 2 || s.K <= 0 {
		return nil, fmt.Errorf("bollinger needs period >= 2 and k > 0, got %d/%v", s.Period, s.K)
	}
	return s, nil
}

func (s *BollingerStrategy) Execute(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error) {
	closes, err := series(obs, log, s.Field)
	if err != nil {
		return types.Decision{}, err
	}
	bands, ok := Bollinger(closes, s.Period, s.K)
	if !ok {
		return wait(), nil
	}
	price := closes[len(closes)-1]
	held := position.Quantity(positionToken(obs))
	switch {
	case price < bands.Lower:
		return s.enter(held, price), nil
	case price > bands.Upper:
		return s.exit(held, price), nil
	}
	return wait(), nil
}

// EMACross 快线上穿慢线买入，下穿卖出。
type EMACross struct {
	Sizing
	Fast int
	Slow int
}

func NewEMACross(params map[string]any) (executor.Strategy, error) {
	sizing, err := sizingFromParams(params)
	if err != nil {
		return nil, err
	}
	s := &EMACross{
		Sizing: sizing,
		Fast:   maputil.IntOr(params, "fast", 12),
		Slow:   maputil.IntOr(params, "slow", 26),
	}
	if s.Fast < 2 || s.Slow <= s.Fast {
		return nil, fmt.Errorf("ema_cross needs 2 <= fast < slow, got %d/%d", s.Fast, s.Slow)
	}
	return s, nil
}

func (s *EMACross) Execute(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error) {
	closes, err := series(obs, log, s.Field)
	if err != nil {
		return types.Decision{}, err
	}
	if len(closes) <= s.Slow {
		return wait(), nil
	}
	prev := closes[:len(closes)-1]
	fastNow, ok1 := EMA(closes, s.Fast)
	slowNow, ok2 := EMA(closes, s.Slow)
	fastPrev, ok3 := EMA(prev, s.Fast)
	slowPrev, ok4 := EMA(prev, s.Slow)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return wait(), nil
	}
	price := closes[len(closes)-1]
	held := position.Quantity(positionToken(obs))
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return s.enter(held, price), nil
	case fastPrev >= slowPrev && fastNow < slowNow:
		return s.exit(held, price), nil
	}
	return wait(), nil
}
