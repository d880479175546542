package history

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"quantcore/internal/security"

	"github.com/shopspring/decimal"
)

const (
	tagDate     = "$date"
	tagSecurity = "$security"
	tagDecimal  = "$decimal"
)

// ValueCodec 为自定义字段类型提供传输编码，Tag 不含 "$" 前缀。
type ValueCodec struct {
	Tag    string
	Encode func(v any) (any, bool)
	Decode func(payload any) (any, error)
}

var (
	codecMu sync.RWMutex
	codecs  []ValueCodec
)

// RegisterValueCodec 注册自定义编码；同 Tag 重复注册时覆盖。
func RegisterValueCodec(c ValueCodec) {
	if strings.TrimSpace(c.Tag) == "" || c.Encode == nil || c.Decode == nil {
		return
	}
	codecMu.Lock()
	defer codecMu.Unlock()
	for i := range codecs {
		if codecs[i].Tag == c.Tag {
			codecs[i] = c
			return
		}
	}
	codecs = append(codecs, c)
}

func lookupCodec(tag string) (ValueCodec, bool) {
	codecMu.RLock()
	defer codecMu.RUnlock()
	for _, c := range codecs {
		if c.Tag == tag {
			return c, true
		}
	}
	return ValueCodec{}, false
}

func encodeCustom(v any) (any, bool) {
	codecMu.RLock()
	list := append([]ValueCodec(nil), codecs...)
	codecMu.RUnlock()
	for _, c := range list {
		if payload, ok := c.Encode(v); ok {
			return map[string]any{"$" + c.Tag: payload}, true
		}
	}
	return nil, false
}

// Serialize 将字段值转为可传输的形式。
func (s Schema) Serialize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, int64, int:
		return t
	case float32:
		return float64(t)
	case int32:
		return int64(t)
	case time.Time:
		return map[string]any{tagDate: t.UTC().Format(time.RFC3339Nano)}
	case security.Security:
		return map[string]any{tagSecurity: t.Symbol}
	case decimal.Decimal:
		return map[string]any{tagDecimal: t.String()}
	}
	if out, ok := encodeCustom(v); ok {
		return out
	}
	return v
}

// Deserialize 是 Serialize 的逆操作。
func (s Schema) Deserialize(v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) != 1 {
		return v, nil
	}
	for tag, payload := range obj {
		if !strings.HasPrefix(tag, "$") {
			return v, nil
		}
		switch tag {
		case tagDate:
			return parseDate(payload)
		case tagSecurity:
			return s.Securities.Get(payload)
		case tagDecimal:
			str, ok := payload.(string)
			if !ok {
				return nil, invalidType(tagDecimal, payload, "string")
			}
			return decimal.NewFromString(str)
		}
		if c, ok := lookupCodec(strings.TrimPrefix(tag, "$")); ok {
			return c.Decode(payload)
		}
		return nil, fmt.Errorf("%w: unknown value tag %s", ErrInvalidDataType, tag)
	}
	return v, nil
}

// SerializeLevel 将 key 分量转为 key 字面量可表示的值。
func (s Schema) SerializeLevel(level Level, v any) any {
	switch level {
	case LevelSecurity:
		if sec, ok := v.(security.Security); ok {
			return sec.Symbol
		}
	case LevelDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return normalizeKeyPart(v)
}

// DeserializeLevel 按层级语义还原 key 分量。
func (s Schema) DeserializeLevel(level Level, v any) (any, error) {
	return convertLevelValue(level, v, s)
}
