// Package history 实现按 Schema 多级索引的观测表。
//
// History 不是并发安全的：同一实例只应由一个 goroutine 修改。
package history

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"quantcore/internal/security"
)

// Row 是一行观测：Values 与 Schema.Fields 对齐。
type Row struct {
	Key    Key
	Values []any
}

func (r Row) clone() Row {
	return Row{Key: r.Key.Clone(), Values: append([]any(nil), r.Values...)}
}

// Frame 是未经校验的原始表。Levels/Fields 为空时按 schema 顺序解释 key 与 values。
type Frame struct {
	Levels []Level
	Fields []string
	Rows   []Row
}

// Record 以字段名给出取值，未出现在 schema 中的字段会被忽略。
type Record struct {
	Key    Key
	Values map[string]any
}

// History 是按插入顺序保存的多级索引表，允许重复 key。
type History struct {
	schema Schema
	rows   []Row
}

// Empty 返回没有任何行的 History。
func Empty(schema Schema) *History {
	return &History{schema: schema}
}

// New 校验并构造 History；frame 中 key 层级不足时返回 SchemaMismatchError。
func New(schema Schema, frame Frame) (*History, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	rows, err := normalizeFrame(schema, frame)
	if err != nil {
		return nil, err
	}
	converted, err := ConvertIndex(rows, schema)
	if err != nil {
		return nil, err
	}
	return &History{schema: schema, rows: converted}, nil
}

// FromRows 是 New(schema, Frame{Rows: rows}) 的简写。
func FromRows(schema Schema, rows ...Row) (*History, error) {
	return New(schema, Frame{Rows: rows})
}

// FromRecords 以字段名构造 History。
func FromRecords(schema Schema, records ...Record) (*History, error) {
	h := Empty(schema)
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := h.AddRecords(records...); err != nil {
		return nil, err
	}
	return h, nil
}

func normalizeFrame(schema Schema, frame Frame) ([]Row, error) {
	if len(frame.Rows) == 0 {
		return nil, nil
	}
	rows := frame.Rows
	if len(frame.Levels) > 0 {
		idx := make([]int, len(schema.Levels))
		for i, l := range schema.Levels {
			j := levelIndex(frame.Levels, l)
			if j < 0 {
				return nil, &SchemaMismatchError{
					Left:   schema,
					Right:  Schema{Levels: frame.Levels, Fields: frame.Fields},
					Reason: fmt.Sprintf("input has no level %s", l),
				}
			}
			idx[i] = j
		}
		remapped := make([]Row, len(rows))
		for r, row := range rows {
			if len(row.Key) != len(frame.Levels) {
				return nil, &SchemaMismatchError{
					Left:   schema,
					Right:  Schema{Levels: frame.Levels, Fields: frame.Fields},
					Reason: fmt.Sprintf("row %d key %v does not match input levels %v", r, row.Key, frame.Levels),
				}
			}
			key := make(Key, len(idx))
			for i, j := range idx {
				key[i] = row.Key[j]
			}
			remapped[r] = Row{Key: key, Values: row.Values}
		}
		rows = remapped
	}
	if len(frame.Fields) > 0 {
		realigned := make([]Row, len(rows))
		for r, row := range rows {
			values := make([]any, len(schema.Fields))
			for i, f := range schema.Fields {
				for j, src := range frame.Fields {
					if src == f && j < len(row.Values) {
						values[i] = row.Values[j]
						break
					}
				}
			}
			realigned[r] = Row{Key: row.Key, Values: values}
		}
		rows = realigned
	}
	return rows, nil
}

func (h *History) Schema() Schema {
	if h == nil {
		return Schema{}
	}
	return h.schema
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.rows)
}

func (h *History) IsEmpty() bool { return h.Len() == 0 }

// Rows 返回行的副本。
func (h *History) Rows() []Row {
	if h == nil {
		return nil
	}
	out := make([]Row, len(h.rows))
	for i, r := range h.rows {
		out[i] = r.clone()
	}
	return out
}

// Row 返回第 i 行的副本。
func (h *History) Row(i int) (Row, bool) {
	if h == nil || i < 0 || i >= len(h.rows) {
		return Row{}, false
	}
	return h.rows[i].clone(), true
}

// Observations 按行序产出观测。
func (h *History) Observations() iter.Seq[Observation] {
	return func(yield func(Observation) bool) {
		if h == nil {
			return
		}
		for _, r := range h.rows {
			if !yield(Observation{Key: r.Key.Clone(), Values: append([]any(nil), r.Values...), schema: h.schema}) {
				return
			}
		}
	}
}

// Column 返回某字段的整列。
func (h *History) Column(field string) ([]any, error) {
	idx := h.Schema().FieldIndex(field)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	out := make([]any, len(h.rows))
	for i, r := range h.rows {
		out[i] = r.Values[idx]
	}
	return out, nil
}

// Floats 返回某字段的数值列；非数值记为 0 并报告数量。
func (h *History) Floats(field string) ([]float64, error) {
	col, err := h.Column(field)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(col))
	bad := 0
	for i, v := range col {
		f, ok := numericValue(v)
		if !ok {
			bad++
		}
		out[i] = f
	}
	if bad > 0 {
		return out, fmt.Errorf("%w: %d non-numeric values in %s", ErrInvalidDataType, bad, field)
	}
	return out, nil
}

func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	return &History{schema: h.schema, rows: h.Rows()}
}

// Equal 要求行内容（含顺序）与 schema 均相等。
func (h *History) Equal(other *History) bool {
	if h.Len() != other.Len() {
		return false
	}
	if !h.Schema().Equal(other.Schema()) {
		return false
	}
	for i := range h.Len() {
		a, b := h.rows[i], other.rows[i]
		if !a.Key.Equal(b.Key) || len(a.Values) != len(b.Values) {
			return false
		}
		for j := range a.Values {
			if !valueEqual(a.Values[j], b.Values[j]) {
				return false
			}
		}
	}
	return true
}

func (h *History) String() string {
	if h == nil {
		return "History(nil)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "History(levels=%v fields=%v rows=%d)", h.schema.Levels, h.schema.Fields, len(h.rows))
	for i, r := range h.rows {
		if i >= 10 {
			fmt.Fprintf(&b, "\n  ... %d more", len(h.rows)-i)
			break
		}
		fmt.Fprintf(&b, "\n  %s %v", FormatKey(r.Key), r.Values)
	}
	return b.String()
}

// Observation 是交给策略的一行：(key, values)，附带其 schema 以便按名访问。
type Observation struct {
	Key    Key
	Values []any
	schema Schema
}

// Observe 构造原始观测（流式输入使用），schema 在记入日志时绑定。
func Observe(key Key, values ...any) Observation {
	return Observation{Key: key, Values: values}
}

func (o Observation) Schema() Schema { return o.schema }

func (o Observation) Row() Row {
	return Row{Key: o.Key, Values: o.Values}
}

// Field 按字段名取值。
func (o Observation) Field(name string) (any, bool) {
	idx := o.schema.FieldIndex(name)
	if idx < 0 || idx >= len(o.Values) {
		return nil, false
	}
	return o.Values[idx], true
}

// Float 按字段名取数值。
func (o Observation) Float(name string) (float64, bool) {
	v, ok := o.Field(name)
	if !ok {
		return 0, false
	}
	return numericValue(v)
}

// Level 返回某层级的 key 分量。
func (o Observation) Level(l Level) (any, bool) {
	idx := o.schema.LevelIndex(l)
	if idx < 0 || idx >= len(o.Key) {
		return nil, false
	}
	return o.Key[idx], true
}

func (o Observation) Security() (security.Security, bool) {
	v, ok := o.Level(LevelSecurity)
	if !ok {
		return security.Security{}, false
	}
	sec, ok := v.(security.Security)
	return sec, ok
}

func (o Observation) Time() (time.Time, bool) {
	v, ok := o.Level(LevelDate)
	if !ok {
		return time.Time{}, false
	}
	ts, ok := v.(time.Time)
	return ts, ok
}
