// Package maputil 提供 map[string]any 参数的类型化读取。
package maputil

import (
	"fmt"
	"strconv"
	"strings"
)

func lookup(params map[string]any, key string) (any, bool) {
	if params == nil {
		return nil, false
	}
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, false
	}
	return raw, true
}

func String(params map[string]any, key string) string {
	raw, ok := lookup(params, key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", raw))
}

// StringOr 在缺失或为空时返回 def。
func StringOr(params map[string]any, key, def string) string {
	if s := String(params, key); s != "" {
		return s
	}
	return def
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", v)), 64)
		return f, err == nil
	}
}

func Int(params map[string]any, key string) int {
	return IntOr(params, key, 0)
}

// IntOr 在缺失或无法解析时返回 def。
func IntOr(params map[string]any, key string, def int) int {
	raw, ok := lookup(params, key)
	if !ok {
		return def
	}
	if s, isStr := raw.(string); isStr {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
		return def
	}
	f, ok := toFloat(raw)
	if !ok {
		return def
	}
	return int(f)
}

func Float(params map[string]any, key string) float64 {
	return FloatOr(params, key, 0)
}

// FloatOr 在缺失或无法解析时返回 def。
func FloatOr(params map[string]any, key string, def float64) float64 {
	raw, ok := lookup(params, key)
	if !ok {
		return def
	}
	f, ok := toFloat(raw)
	if !ok {
		return def
	}
	return f
}

// Bool 接受 bool 以及 "true"/"1"/"yes" 等字符串。
func Bool(params map[string]any, key string) bool {
	raw, ok := lookup(params, key)
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	default:
		f, ok := toFloat(v)
		return ok && f != 0
	}
}

func StringSlice(params map[string]any, key string) []string {
	raw, ok := lookup(params, key)
	if !ok {
		return nil
	}
	var items []string
	switch val := raw.(type) {
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprintf("%v", item))
		}
	default:
		items = strings.Split(fmt.Sprintf("%v", val), ",")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
