package history

import (
	"fmt"
)

// Add 追加另一个 History（等价于 Extend）。
func (h *History) Add(other *History) error {
	return h.Extend(other)
}

// AddFrame 追加原始表；转换失败时 h 不变。
func (h *History) AddFrame(frame Frame) error {
	rows, err := normalizeFrame(h.schema, frame)
	if err != nil {
		return err
	}
	converted, err := ConvertIndex(rows, h.schema)
	if err != nil {
		return err
	}
	h.rows = append(h.rows, converted...)
	return nil
}

// AddRow 追加单行，values 与 schema 字段对齐。
func (h *History) AddRow(key Key, values ...any) error {
	return h.AddFrame(Frame{Rows: []Row{{Key: key, Values: values}}})
}

// AddRecords 以字段名追加多行。
func (h *History) AddRecords(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Row, len(records))
	for i, rec := range records {
		values := make([]any, len(h.schema.Fields))
		for j, f := range h.schema.Fields {
			values[j] = rec.Values[f]
		}
		rows[i] = Row{Key: rec.Key, Values: values}
	}
	return h.AddFrame(Frame{Rows: rows})
}

// AppendObservation 记录一条观测并返回按 schema 转换后的版本。
func (h *History) AppendObservation(obs Observation) (Observation, error) {
	converted, err := ConvertIndex([]Row{obs.Row()}, h.schema)
	if err != nil {
		return Observation{}, err
	}
	row := converted[0]
	h.rows = append(h.rows, row)
	return Observation{Key: row.Key.Clone(), Values: append([]any(nil), row.Values...), schema: h.schema}, nil
}

// SetSchema 整体替换 schema，按层级名和字段名重新对齐后重建索引。
func (h *History) SetSchema(schema Schema) error {
	next, err := New(schema, Frame{Levels: h.schema.Levels, Fields: h.schema.Fields, Rows: h.rows})
	if err != nil {
		return err
	}
	h.schema = next.schema
	h.rows = next.rows
	return nil
}

func (h *History) fieldIndexes(fields []string) ([]int, error) {
	idx := make([]int, len(fields))
	for i, f := range fields {
		j := h.schema.FieldIndex(f)
		if j < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		idx[i] = j
	}
	return idx, nil
}

// Set 将字段整列覆盖为给定值（广播到每一行）。空 History 为 no-op。
func (h *History) Set(fields []string, values []any) error {
	return h.SetWhere(nil, fields, values)
}

// SetWhere 先把 relabel 中每个层级的 key 分量统一替换为给定值，再覆盖字段列，
// 最后重建索引。这是整层重标记而非逐行更新；逐行更新使用 Update。
func (h *History) SetWhere(relabel map[Level]any, fields []string, values []any) error {
	if h.IsEmpty() {
		return nil
	}
	if len(fields) != len(values) {
		return fmt.Errorf("set: %d fields but %d values", len(fields), len(values))
	}
	idx, err := h.fieldIndexes(fields)
	if err != nil {
		return err
	}
	levelPos := make(map[int]any, len(relabel))
	for l, v := range relabel {
		j := h.schema.LevelIndex(l)
		if j < 0 {
			return &SchemaMismatchError{Left: h.schema, Right: h.schema, Reason: fmt.Sprintf("unknown level %s", l)}
		}
		levelPos[j] = v
	}
	rows := h.Rows()
	for _, r := range rows {
		for j, v := range levelPos {
			r.Key[j] = v
		}
		for i, j := range idx {
			r.Values[j] = values[i]
		}
	}
	converted, err := ConvertIndex(rows, h.schema)
	if err != nil {
		return err
	}
	h.rows = converted
	return nil
}

// SetColumn 逐行覆盖某字段，column 长度必须等于行数。
func (h *History) SetColumn(field string, column []any) error {
	if h.IsEmpty() {
		return nil
	}
	j := h.schema.FieldIndex(field)
	if j < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if len(column) != len(h.rows) {
		return fmt.Errorf("set column %s: %d values for %d rows", field, len(column), len(h.rows))
	}
	for i := range h.rows {
		h.rows[i].Values[j] = column[i]
	}
	return nil
}

// Update 按 key 更新匹配行的部分字段，返回更新的行数。
func (h *History) Update(key Key, values map[string]any) (int, error) {
	if h.IsEmpty() {
		return 0, nil
	}
	converted, err := ConvertIndex([]Row{{Key: key}}, h.schema)
	if err != nil {
		return 0, err
	}
	target := converted[0].Key
	type assign struct {
		idx int
		val any
	}
	assigns := make([]assign, 0, len(values))
	for f, v := range values {
		j := h.schema.FieldIndex(f)
		if j < 0 {
			return 0, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		assigns = append(assigns, assign{idx: j, val: v})
	}
	n := 0
	for i := range h.rows {
		if !h.rows[i].Key.Equal(target) {
			continue
		}
		for _, a := range assigns {
			h.rows[i].Values[a.idx] = a.val
		}
		n++
	}
	return n, nil
}
