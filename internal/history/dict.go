package history

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// RowEntry 是传输形式中的一行。serializable 时 Key 为元组字面量字符串，否则为 Key。
type RowEntry struct {
	Key    any
	Values map[string]any
}

// RowDict 保持行顺序的 df 映射。
type RowDict []RowEntry

// Dict 是 History 的传输形式：{"df": {...}, "schema": {...}}。
type Dict struct {
	DF     RowDict    `json:"df" mapstructure:"df"`
	Schema SchemaDict `json:"schema" mapstructure:"schema"`
}

// ToDict 导出为传输形式；serializable 为 true 时 key 转为字面量、字段值经 Schema.Serialize 编码。
func (h *History) ToDict(serializable bool) Dict {
	schema := h.Schema()
	d := Dict{DF: make(RowDict, 0, h.Len()), Schema: schema.ToDict()}
	for _, r := range h.Rows() {
		entry := RowEntry{Values: make(map[string]any, len(schema.Fields))}
		for j, f := range schema.Fields {
			if serializable {
				entry.Values[f] = schema.Serialize(r.Values[j])
			} else {
				entry.Values[f] = r.Values[j]
			}
		}
		if serializable {
			key := make(Key, len(r.Key))
			for j, part := range r.Key {
				key[j] = schema.SerializeLevel(schema.Levels[j], part)
			}
			entry.Key = FormatKey(key)
		} else {
			entry.Key = r.Key
		}
		d.DF = append(d.DF, entry)
	}
	return d
}

// FromDict 是 ToDict 的逆操作：先还原 schema，再解析 key 与字段值，最后走常规构造流程。
func FromDict(d Dict, serialized bool) (*History, error) {
	schema, err := SchemaFromDict(d.Schema)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(d.DF))
	for i, entry := range d.DF {
		key, err := dictKey(entry.Key, serialized)
		if err != nil {
			return nil, fmt.Errorf("df[%d]: %w", i, err)
		}
		values := make([]any, len(schema.Fields))
		for j, f := range schema.Fields {
			v := entry.Values[f]
			if serialized {
				if v, err = schema.Deserialize(v); err != nil {
					return nil, fmt.Errorf("df[%d].%s: %w", i, f, err)
				}
			}
			values[j] = v
		}
		rows = append(rows, Row{Key: key, Values: values})
	}
	return New(schema, Frame{Rows: rows})
}

func dictKey(raw any, serialized bool) (Key, error) {
	switch k := raw.(type) {
	case string:
		if !serialized {
			return Key{k}, nil
		}
		return ParseKey(k)
	case Key:
		return k.Clone(), nil
	case []any:
		return Key(slices.Clone(k)), nil
	default:
		return nil, invalidType("df.key", raw, "tuple literal or key")
	}
}

// DecodeDict 将通用 map（例如 JSON/YAML 解码结果）转换为 Dict。
// 通用 map 不保序，df 行按 key 排序。
func DecodeDict(raw map[string]any) (Dict, error) {
	var d Dict
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       rowDictHook,
		WeaklyTypedInput: true,
		Result:           &d,
	})
	if err != nil {
		return Dict{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Dict{}, &InvalidDataTypeError{Path: "dict", Got: fmt.Sprintf("%T", raw), Want: "history dict", Err: err}
	}
	return d, nil
}

var rowDictType = reflect.TypeOf(RowDict(nil))

func rowDictHook(from, to reflect.Type, data any) (any, error) {
	if to != rowDictType {
		return data, nil
	}
	switch df := data.(type) {
	case RowDict:
		return df, nil
	case map[string]any:
		keys := make([]string, 0, len(df))
		for k := range df {
			keys = append(keys, k)
		}
		sortLiteralKeys(keys)
		out := make(RowDict, 0, len(keys))
		for _, k := range keys {
			values, ok := df[k].(map[string]any)
			if !ok {
				return nil, invalidType("df."+k, df[k], "object")
			}
			out = append(out, RowEntry{Key: k, Values: values})
		}
		return out, nil
	default:
		return nil, invalidType("df", data, "object")
	}
}

// sortLiteralKeys 在全部可解析时按 key 语义排序，否则按字符串排序。
func sortLiteralKeys(keys []string) {
	parsed := make(map[string]Key, len(keys))
	for _, k := range keys {
		pk, err := ParseKey(k)
		if err != nil {
			slices.Sort(keys)
			return
		}
		parsed[k] = pk
	}
	slices.SortStableFunc(keys, func(a, b string) int {
		if c := compareKeys(parsed[a], parsed[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}
