package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const wireSchema = `{
  "type": "object",
  "required": ["df", "schema"],
  "properties": {
    "df": {
      "type": "object",
      "additionalProperties": {"type": "object"}
    },
    "schema": {
      "type": "object",
      "required": ["levels", "fields"],
      "properties": {
        "levels": {"type": "array", "items": {"type": "string"}},
        "fields": {"type": "array", "items": {"type": "string"}},
        "security_manager": {"type": ["object", "null"]}
      }
    }
  }
}`

var (
	wireSchemaOnce     sync.Once
	wireSchemaCompiled *jsonschema.Schema
	wireSchemaErr      error
)

func compiledWireSchema() (*jsonschema.Schema, error) {
	wireSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("history.json", strings.NewReader(wireSchema)); err != nil {
			wireSchemaErr = err
			return
		}
		wireSchemaCompiled, wireSchemaErr = compiler.Compile("history.json")
	})
	return wireSchemaCompiled, wireSchemaErr
}

// MarshalJSON 按行顺序写出 df 对象。
func (d RowDict) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		var key string
		switch k := entry.Key.(type) {
		case string:
			key = k
		case Key:
			key = FormatKey(k)
		case []any:
			key = FormatKey(Key(k))
		default:
			return nil, invalidType("df.key", entry.Key, "tuple literal or key")
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(entry.Values)
		if err != nil {
			return nil, fmt.Errorf("df[%s]: %w", key, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 使用 gjson 逐项读取，保留文档中的行顺序。
func (d *RowDict) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return invalidType("df", res.Type.String(), "object")
	}
	out := RowDict{}
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		values, ok := value.Value().(map[string]any)
		if !ok {
			err = invalidType("df."+key.String(), value.Type.String(), "object")
			return false
		}
		out = append(out, RowEntry{Key: key.String(), Values: values})
		return true
	})
	if err != nil {
		return err
	}
	*d = out
	return nil
}

// ToJSON 序列化为 {"df": ..., "schema": ...}。
func (h *History) ToJSON() ([]byte, error) {
	return json.Marshal(h.ToDict(true))
}

func (h *History) MarshalJSON() ([]byte, error) {
	return h.ToJSON()
}

// FromJSON 校验并还原 History；结构不合法时返回 *InvalidDataTypeError。
func FromJSON(data []byte) (*History, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, &InvalidDataTypeError{Path: "$", Got: "invalid json", Want: "history object", Err: err}
	}
	schema, err := compiledWireSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, &InvalidDataTypeError{Path: "$", Got: fmt.Sprintf("%T", generic), Want: "history object", Err: err}
	}
	var d Dict
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &InvalidDataTypeError{Path: "$", Got: "malformed history", Want: "history object", Err: err}
	}
	return FromDict(d, true)
}

func (h *History) UnmarshalJSON(data []byte) error {
	out, err := FromJSON(data)
	if err != nil {
		return err
	}
	*h = *out
	return nil
}
