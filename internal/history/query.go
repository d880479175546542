package history

import (
	"slices"
)

// LevelFilter 以层级为键给出允许的取值；同一层级内取值为"或"，层级之间为"与"。
type LevelFilter map[Level][]any

// Get 返回满足过滤条件的行组成的新 History，fields 为空时保留全部字段。
// 无法解析的过滤值与未知层级不报错，只是不匹配任何行；未知字段被跳过，全部未知时结果为空。
func (h *History) Get(filters LevelFilter, fields ...string) *History {
	schema := h.Schema()
	selected, idx := h.selectFields(fields)
	out := Empty(schema.WithFields(selected...))
	if h.IsEmpty() || (len(fields) > 0 && len(selected) == 0) {
		return out
	}

	type levelMatch struct {
		pos    int
		values []any
	}
	matches := make([]levelMatch, 0, len(filters))
	for level, raw := range filters {
		pos := schema.LevelIndex(level)
		if pos < 0 {
			return out
		}
		values := make([]any, 0, len(raw))
		for _, v := range raw {
			if cv, ok := lookupLevelValue(level, v, schema); ok {
				values = append(values, cv)
			}
		}
		if len(values) == 0 {
			return out
		}
		matches = append(matches, levelMatch{pos: pos, values: values})
	}

	for _, r := range h.rows {
		ok := true
		for _, m := range matches {
			if !slices.ContainsFunc(m.values, func(v any) bool { return valueEqual(r.Key[m.pos], v) }) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		values := make([]any, len(idx))
		for i, j := range idx {
			values[i] = r.Values[j]
		}
		out.rows = append(out.rows, Row{Key: r.Key.Clone(), Values: values})
	}
	return out
}

// GetRows 与 Get 相同，但直接返回行。
func (h *History) GetRows(filters LevelFilter, fields ...string) []Row {
	return h.Get(filters, fields...).rows
}

func (h *History) selectFields(fields []string) ([]string, []int) {
	schema := h.Schema()
	if len(fields) == 0 {
		idx := make([]int, len(schema.Fields))
		for i := range idx {
			idx[i] = i
		}
		return append([]string(nil), schema.Fields...), idx
	}
	selected := make([]string, 0, len(fields))
	idx := make([]int, 0, len(fields))
	for _, f := range fields {
		j := schema.FieldIndex(f)
		if j < 0 || slices.Contains(selected, f) {
			continue
		}
		selected = append(selected, f)
		idx = append(idx, j)
	}
	return selected, idx
}

// LevelsUnique 返回各层级按首次出现顺序去重后的取值，levels 为空时返回全部层级。
func (h *History) LevelsUnique(levels ...Level) map[Level][]any {
	schema := h.Schema()
	if len(levels) == 0 {
		levels = schema.Levels
	}
	out := make(map[Level][]any, len(levels))
	for _, l := range levels {
		pos := schema.LevelIndex(l)
		if pos < 0 {
			continue
		}
		uniq := []any{}
		for _, r := range h.rows {
			v := r.Key[pos]
			if !slices.ContainsFunc(uniq, func(u any) bool { return valueEqual(u, v) }) {
				uniq = append(uniq, v)
			}
		}
		out[l] = uniq
	}
	return out
}

// SortByKey 按 key 稳定排序（原地）。
func (h *History) SortByKey() {
	if h == nil {
		return
	}
	slices.SortStableFunc(h.rows, func(a, b Row) int { return compareKeys(a.Key, b.Key) })
}

// Tail 返回最后 n 行组成的新 History。
func (h *History) Tail(n int) *History {
	out := Empty(h.Schema())
	if n <= 0 || h.IsEmpty() {
		return out
	}
	start := max(len(h.rows)-n, 0)
	for _, r := range h.rows[start:] {
		out.rows = append(out.rows, r.clone())
	}
	return out
}
