package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrSideMismatch = errors.New("signal sides differ")

// Side 是信号方向。
type Side int

const (
	Sell Side = -1
	Wait Side = 0
	Buy  Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Wait:
		return "WAIT"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide 接受 buy/sell/wait 以及 long/short/hold 等别名。
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long", "1":
		return Buy, nil
	case "sell", "short", "-1":
		return Sell, nil
	case "wait", "hold", "flat", "0", "":
		return Wait, nil
	}
	return Wait, fmt.Errorf("unknown side %q", raw)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Signal 是策略对单个观测给出的交易决定。Quantity/Price 可缺省。
type Signal struct {
	Side     Side                `json:"side"`
	Quantity decimal.NullDecimal `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
}

// NewSignal 以 float 构造信号，便于策略与测试使用。
func NewSignal(side Side, quantity, price float64) Signal {
	return Signal{
		Side:     side,
		Quantity: decimal.NewNullDecimal(decimal.NewFromFloat(quantity)),
		Price:    decimal.NewNullDecimal(decimal.NewFromFloat(price)),
	}
}

// WaitSignal 表示不操作。
func WaitSignal() Signal { return Signal{Side: Wait} }

func (s Signal) IsWait() bool { return s.Side == Wait }

// Add 合并同方向信号：数量相加，方向与价格沿用 s。
func (s Signal) Add(other Signal) (Signal, error) {
	if s.Side != other.Side {
		return Signal{}, fmt.Errorf("%w: %s + %s", ErrSideMismatch, s.Side, other.Side)
	}
	return Signal{Side: s.Side, Quantity: addNull(s.Quantity, other.Quantity), Price: s.Price}, nil
}

// AddQuantity 在原数量上加 q，价格与方向不变。
func (s Signal) AddQuantity(q decimal.Decimal) Signal {
	s.Quantity = addNull(s.Quantity, decimal.NewNullDecimal(q))
	return s
}

func addNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case a.Valid && b.Valid:
		return decimal.NewNullDecimal(a.Decimal.Add(b.Decimal))
	case a.Valid:
		return a
	default:
		return b
	}
}

// Equal 按数值比较数量与价格。
func (s Signal) Equal(other Signal) bool {
	return s.Side == other.Side && nullEqual(s.Quantity, other.Quantity) && nullEqual(s.Price, other.Price)
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// Negate 翻转方向。
func (s Signal) Negate() Signal {
	s.Side = -s.Side
	return s
}

func (s Signal) NegateValue() any { return s.Negate() }

func (s Signal) String() string {
	return fmt.Sprintf("Signal(%s, %s, %s)", s.Side, nullString(s.Quantity), nullString(s.Price))
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
