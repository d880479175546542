package history

import (
	"fmt"
	"math"

	"quantcore/internal/security"

	"github.com/shopspring/decimal"
)

// Negater 由支持取负的自定义字段值实现（例如信号、决定）。
type Negater interface {
	NegateValue() any
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t.InexactFloat64(), true
	case decimal.NullDecimal:
		if !t.Valid {
			return math.NaN(), false
		}
		return t.Decimal.InexactFloat64(), true
	}
	return asFloat(v)
}

func negateValue(v any) any {
	switch t := v.(type) {
	case float64:
		return -t
	case float32:
		return -t
	case int:
		return -t
	case int64:
		return -t
	case int32:
		return -t
	case decimal.Decimal:
		return t.Neg()
	case decimal.NullDecimal:
		if !t.Valid {
			return t
		}
		return decimal.NewNullDecimal(t.Decimal.Neg())
	case Negater:
		return t.NegateValue()
	default:
		return v
	}
}

func multiplyValues(a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	da, aDec := a.(decimal.Decimal)
	db, bDec := b.(decimal.Decimal)
	if aDec || bDec {
		if !aDec {
			f, ok := asFloat(a)
			if !ok {
				return nil, invalidType("multiply", a, "number")
			}
			da = decimal.NewFromFloat(f)
		}
		if !bDec {
			f, ok := asFloat(b)
			if !ok {
				return nil, invalidType("multiply", b, "number")
			}
			db = decimal.NewFromFloat(f)
		}
		return da.Mul(db), nil
	}
	if ia, ok := a.(int64); ok {
		if ib, ok := b.(int64); ok {
			return ia * ib, nil
		}
	}
	fa, ok := asFloat(a)
	if !ok {
		return nil, invalidType("multiply", a, "number")
	}
	fb, ok := asFloat(b)
	if !ok {
		return nil, invalidType("multiply", b, "number")
	}
	return fa * fb, nil
}

// Map 对每个字段值调用 fn，返回同 schema 的新 History。
func (h *History) Map(fn func(field string, v any) (any, error)) (*History, error) {
	out := Empty(h.Schema())
	if h.IsEmpty() {
		return out, nil
	}
	out.rows = make([]Row, len(h.rows))
	for i, r := range h.rows {
		values := make([]any, len(r.Values))
		for j, v := range r.Values {
			nv, err := fn(h.schema.Fields[j], v)
			if err != nil {
				return nil, fmt.Errorf("map %s row %s: %w", h.schema.Fields[j], FormatKey(r.Key), err)
			}
			values[j] = nv
		}
		out.rows[i] = Row{Key: r.Key.Clone(), Values: values}
	}
	return out, nil
}

// Neg 返回所有数值字段取负后的新 History，非数值保持不变。
func (h *History) Neg() *History {
	out, _ := h.Map(func(_ string, v any) (any, error) { return negateValue(v), nil })
	return out
}

// Apply 对整个表调用 fn；by 非空时先按这些层级分组，fn 对每组的子表调用，结果按组首次出现顺序拼接。
// schema 为 nil 时沿用 fn 返回结果的 schema。
func (h *History) Apply(fn func(*History) (*History, error), schema *Schema, by ...Level) (*History, error) {
	if len(by) == 0 {
		res, err := fn(h.Clone())
		if err != nil {
			return nil, err
		}
		return rebuild(res, schema)
	}
	groups, err := h.groupBy(by)
	if err != nil {
		return nil, err
	}
	var acc *History
	for _, g := range groups {
		res, err := fn(g)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = res.Clone()
			continue
		}
		if err := acc.Extend(res); err != nil {
			return nil, err
		}
	}
	if acc == nil {
		acc = Empty(h.Schema())
	}
	return rebuild(acc, schema)
}

// ApplyOn 以 h 与 other 为参数调用 fn，用于跨表组合。
func (h *History) ApplyOn(other *History, fn func(a, b *History) (*History, error), schema *Schema) (*History, error) {
	res, err := fn(h.Clone(), other.Clone())
	if err != nil {
		return nil, err
	}
	return rebuild(res, schema)
}

// Multiply 按 key 内连接后逐字段相乘；other 只有一个字段时广播到所有字段，
// 否则按同名字段相乘，缺失的字段结果为 nil。
func (h *History) Multiply(other *History) (*History, error) {
	out := Empty(h.Schema())
	if h.IsEmpty() || other.IsEmpty() {
		return out, nil
	}
	if !levelsEqual(h.schema.Levels, other.schema.Levels) {
		return nil, &SchemaMismatchError{Left: h.schema, Right: other.schema, Reason: "multiply requires identical levels"}
	}
	broadcast := len(other.schema.Fields) == 1
	pick := make([]int, len(h.schema.Fields))
	for i, f := range h.schema.Fields {
		if broadcast {
			pick[i] = 0
		} else {
			pick[i] = other.schema.FieldIndex(f)
		}
	}
	for _, r := range h.rows {
		var match *Row
		for k := range other.rows {
			if other.rows[k].Key.Equal(r.Key) {
				match = &other.rows[k]
				break
			}
		}
		if match == nil {
			continue
		}
		values := make([]any, len(r.Values))
		for i, v := range r.Values {
			if pick[i] < 0 {
				continue
			}
			p, err := multiplyValues(v, match.Values[pick[i]])
			if err != nil {
				return nil, fmt.Errorf("multiply %s row %s: %w", h.schema.Fields[i], FormatKey(r.Key), err)
			}
			values[i] = p
		}
		out.rows = append(out.rows, Row{Key: r.Key.Clone(), Values: values})
	}
	return out, nil
}

func (h *History) groupBy(by []Level) ([]*History, error) {
	pos := make([]int, len(by))
	for i, l := range by {
		pos[i] = h.Schema().LevelIndex(l)
		if pos[i] < 0 {
			return nil, &SchemaMismatchError{Left: h.Schema(), Right: h.Schema(), Reason: fmt.Sprintf("unknown group level %s", l)}
		}
	}
	var (
		keys   []Key
		groups []*History
	)
	for _, r := range h.Rows() {
		gk := make(Key, len(pos))
		for i, p := range pos {
			gk[i] = r.Key[p]
		}
		idx := -1
		for i, k := range keys {
			if k.Equal(gk) {
				idx = i
				break
			}
		}
		if idx < 0 {
			keys = append(keys, gk)
			groups = append(groups, Empty(h.schema))
			idx = len(groups) - 1
		}
		groups[idx].rows = append(groups[idx].rows, r)
	}
	return groups, nil
}

func rebuild(res *History, schema *Schema) (*History, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: transform returned nil history", ErrInvalidDataType)
	}
	if schema == nil {
		return res, nil
	}
	return New(*schema, Frame{Levels: res.schema.Levels, Fields: res.schema.Fields, Rows: res.rows})
}

func mergeManagers(a, b *security.Manager) (*security.Manager, error) {
	if a == b || b == nil {
		return a, nil
	}
	if a == nil {
		return b, nil
	}
	return a.Merge(b)
}

// Concat 返回 h 与 other 按顺序拼接的新 History，两者均不被修改。
// 双方都非空时层级与字段必须一致；证券 manager 总是合并。
func (h *History) Concat(other *History) (*History, error) {
	left, right := h.Schema(), other.Schema()
	if !h.IsEmpty() && !other.IsEmpty() && !left.Compatible(right) {
		return nil, &SchemaMismatchError{Left: left, Right: right, Reason: "levels or fields differ"}
	}
	m, err := mergeManagers(left.Securities, right.Securities)
	if err != nil {
		return nil, err
	}
	base := left
	if h.IsEmpty() && !other.IsEmpty() {
		base = right
	}
	schema := base.WithSecurities(m)
	rows := make([]Row, 0, h.Len()+other.Len())
	rows = append(rows, h.Rows()...)
	rows = append(rows, other.Rows()...)
	converted, err := ConvertIndex(rows, schema)
	if err != nil {
		return nil, err
	}
	return &History{schema: schema, rows: converted}, nil
}

// Extend 将 other 追加到 h，语义与 Concat 一致；h 为空时采用 other 的层级与字段。失败时 h 不变。
func (h *History) Extend(other *History) error {
	next, err := h.Concat(other)
	if err != nil {
		return err
	}
	h.schema, h.rows = next.schema, next.rows
	return nil
}
