package types

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"quantcore/internal/history"

	"github.com/shopspring/decimal"
)

// Decision 是 Strategy.Execute 的返回值：单个信号，或按 key（通常是证券 token）分组的信号。
type Decision struct {
	signal  Signal
	grouped map[string]Signal
}

var (
	_ history.Negater = Signal{}
	_ history.Negater = Decision{}
)

// Single 包装单个信号。
func Single(s Signal) Decision { return Decision{signal: s} }

// Grouped 包装分组信号，map 会被复制。
func Grouped(signals map[string]Signal) Decision {
	g := make(map[string]Signal, len(signals))
	maps.Copy(g, signals)
	return Decision{grouped: g}
}

func (d Decision) IsGrouped() bool { return d.grouped != nil }

// Signal 返回单个信号；分组决定返回 false。
func (d Decision) Signal() (Signal, bool) {
	if d.IsGrouped() {
		return Signal{}, false
	}
	return d.signal, true
}

// Keys 返回分组 key（排序后）。
func (d Decision) Keys() []string {
	return slices.Sorted(maps.Keys(d.grouped))
}

// Signals 遍历所有信号；单个信号的 key 为空串。
func (d Decision) Signals() iter.Seq2[string, Signal] {
	return func(yield func(string, Signal) bool) {
		if !d.IsGrouped() {
			yield("", d.signal)
			return
		}
		for _, k := range d.Keys() {
			if !yield(k, d.grouped[k]) {
				return
			}
		}
	}
}

// Equal 结构比较。
func (d Decision) Equal(other Decision) bool {
	if d.IsGrouped() != other.IsGrouped() {
		return false
	}
	if !d.IsGrouped() {
		return d.signal.Equal(other.signal)
	}
	if len(d.grouped) != len(other.grouped) {
		return false
	}
	for k, s := range d.grouped {
		o, ok := other.grouped[k]
		if !ok || !s.Equal(o) {
			return false
		}
	}
	return true
}

// EqualTo 使 Decision 作为 History 字段值时参与相等比较。
func (d Decision) EqualTo(other any) bool {
	switch o := other.(type) {
	case Decision:
		return d.Equal(o)
	case Signal:
		return d.Equal(Single(o))
	}
	return false
}

// Negate 翻转所有信号方向。
func (d Decision) Negate() Decision {
	if !d.IsGrouped() {
		return Single(d.signal.Negate())
	}
	g := make(map[string]Signal, len(d.grouped))
	for k, s := range d.grouped {
		g[k] = s.Negate()
	}
	return Decision{grouped: g}
}

func (d Decision) NegateValue() any { return d.Negate() }

func (d Decision) String() string {
	if !d.IsGrouped() {
		return d.signal.String()
	}
	parts := make([]string, 0, len(d.grouped))
	for k, s := range d.Signals() {
		parts = append(parts, k+": "+s.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type decisionJSON struct {
	Signal *Signal            `json:"signal,omitempty"`
	Group  map[string]Signal `json:"group,omitempty"`
}

func (d Decision) MarshalJSON() ([]byte, error) {
	if d.IsGrouped() {
		return json.Marshal(decisionJSON{Group: d.grouped})
	}
	s := d.signal
	return json.Marshal(decisionJSON{Signal: &s})
}

func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw decisionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Group != nil:
		*d = Grouped(raw.Group)
	case raw.Signal != nil:
		*d = Single(*raw.Signal)
	default:
		*d = Single(WaitSignal())
	}
	return nil
}

func signalPayload(s Signal) map[string]any {
	out := map[string]any{"side": s.Side.String()}
	if s.Quantity.Valid {
		out["quantity"] = s.Quantity.Decimal.String()
	}
	if s.Price.Valid {
		out["price"] = s.Price.Decimal.String()
	}
	return out
}

func signalFromPayload(raw any) (Signal, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Signal{}, fmt.Errorf("%w: signal payload is %T", history.ErrInvalidDataType, raw)
	}
	side, _ := m["side"].(string)
	sd, err := ParseSide(side)
	if err != nil {
		return Signal{}, err
	}
	out := Signal{Side: sd}
	if out.Quantity, err = nullFromPayload(m["quantity"]); err != nil {
		return Signal{}, err
	}
	if out.Price, err = nullFromPayload(m["price"]); err != nil {
		return Signal{}, err
	}
	return out, nil
}

func nullFromPayload(v any) (decimal.NullDecimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(t)), nil
	}
	return decimal.NullDecimal{}, fmt.Errorf("%w: decimal payload is %T", history.ErrInvalidDataType, v)
}

func init() {
	history.RegisterValueCodec(history.ValueCodec{
		Tag: "decision",
		Encode: func(v any) (any, bool) {
			var d Decision
			switch t := v.(type) {
			case Decision:
				d = t
			case Signal:
				d = Single(t)
			default:
				return nil, false
			}
			if !d.IsGrouped() {
				return signalPayload(d.signal), true
			}
			group := make(map[string]any, len(d.grouped))
			for k, s := range d.grouped {
				group[k] = signalPayload(s)
			}
			return map[string]any{"group": group}, true
		},
		Decode: func(payload any) (any, error) {
			m, ok := payload.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: decision payload is %T", history.ErrInvalidDataType, payload)
			}
			rawGroup, ok := m["group"]
			if !ok {
				s, err := signalFromPayload(m)
				if err != nil {
					return nil, err
				}
				return Single(s), nil
			}
			group, ok := rawGroup.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: decision group is %T", history.ErrInvalidDataType, rawGroup)
			}
			out := make(map[string]Signal, len(group))
			for k, v := range group {
				s, err := signalFromPayload(v)
				if err != nil {
					return nil, fmt.Errorf("group %s: %w", k, err)
				}
				out[k] = s
			}
			return Grouped(out), nil
		},
	})
}
