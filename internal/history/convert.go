package history

import (
	"fmt"
	"strings"
	"time"

	"quantcore/internal/security"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDate 接受 time.Time、常见日期字符串以及 Unix 毫秒。
func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", ErrInvalidDate)
		}
		return t.UTC(), nil
	case string:
		raw := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, t)
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDate, v)
	}
}

func convertLevelValue(level Level, v any, schema Schema) (any, error) {
	switch level {
	case LevelDate:
		ts, err := parseDate(v)
		if err != nil {
			return nil, &ResolutionError{Level: level, Value: v, Err: err}
		}
		return ts, nil
	case LevelSecurity:
		sec, err := schema.Securities.Get(v)
		if err != nil {
			return nil, &ResolutionError{Level: level, Value: v, Err: err}
		}
		return sec, nil
	default:
		return normalizeKeyPart(v), nil
	}
}

// lookupLevelValue 与 convertLevelValue 相同，但不会向 manager 注册新证券。
func lookupLevelValue(level Level, v any, schema Schema) (any, bool) {
	if level == LevelSecurity {
		sec, ok := schema.Securities.Lookup(v)
		if !ok {
			if s, isSec := v.(security.Security); isSec {
				return s, true
			}
		}
		return sec, ok
	}
	out, err := convertLevelValue(level, v, schema)
	return out, err == nil
}

// ConvertIndex 按 schema 重建每一行的 key：截断多余分量、解析 SECURITY、解析 DATE。
// 输入不被修改；对已转换的行再次调用结果不变。
func ConvertIndex(rows []Row, schema Schema) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	nLevels := len(schema.Levels)
	out := make([]Row, len(rows))
	for i, row := range rows {
		if len(row.Key) < nLevels {
			return nil, &SchemaMismatchError{
				Left:   schema,
				Right:  Schema{Fields: schema.Fields},
				Reason: fmt.Sprintf("row %d key %v has %d levels, schema declares %d", i, row.Key, len(row.Key), nLevels),
			}
		}
		if len(row.Values) > len(schema.Fields) {
			return nil, &SchemaMismatchError{
				Left:   schema,
				Right:  schema,
				Reason: fmt.Sprintf("row %d has %d values, schema declares %d fields", i, len(row.Values), len(schema.Fields)),
			}
		}
		key := make(Key, nLevels)
		for j, level := range schema.Levels {
			v, err := convertLevelValue(level, row.Key[j], schema)
			if err != nil {
				return nil, err
			}
			key[j] = v
		}
		values := make([]any, len(schema.Fields))
		copy(values, row.Values)
		out[i] = Row{Key: key, Values: values}
	}
	return out, nil
}
