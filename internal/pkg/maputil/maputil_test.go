package maputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	params := map[string]any{
		"period":  "14",
		"k":       2,
		"qty":     "0.5",
		"short":   "yes",
		"symbols": []any{"BTC/USDT", " ", "ETH/USDT"},
		"csv":     "a, b,,c",
		"bad":     "x",
	}
	assert.Equal(t, 14, Int(params, "period"))
	assert.Equal(t, 2.0, Float(params, "k"))
	assert.Equal(t, 0.5, FloatOr(params, "qty", 1))
	assert.Equal(t, 1.0, FloatOr(params, "missing", 1))
	assert.Equal(t, 7, IntOr(params, "bad", 7))
	assert.True(t, Bool(params, "short"))
	assert.False(t, Bool(params, "missing"))
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, StringSlice(params, "symbols"))
	assert.Equal(t, []string{"a", "b", "c"}, StringSlice(params, "csv"))
	assert.Equal(t, "rsi", StringOr(nil, "name", "rsi"))
}
