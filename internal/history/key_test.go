package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatKey(t *testing.T) {
	assert.Equal(t, `(date("2024-01-01T00:00:00Z"), "AAPL")`, FormatKey(Key{day("2024-01-01"), "AAPL"}))
	assert.Equal(t, "(1,)", FormatKey(Key{1}))
	assert.Equal(t, "(2.0, 2.5, null, true)", FormatKey(Key{2.0, 2.5, nil, true}))
	assert.Equal(t, "()", FormatKey(Key{}))
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey(`(date("2024-01-01T00:00:00Z"), "AAPL")`)
	require.NoError(t, err)
	require.Len(t, k, 2)
	assert.True(t, k.Equal(Key{day("2024-01-01"), "AAPL"}))

	k, err = ParseKey(` ( 'it\'s' , -3, 1.5e2, false, null, ) `)
	require.NoError(t, err)
	assert.Equal(t, Key{"it's", int64(-3), 150.0, false, nil}, k)

	original := Key{day("2024-03-05"), "BTC/USDT", int64(60), 0.25, "say \"hi\""}
	back, err := ParseKey(FormatKey(original))
	require.NoError(t, err)
	assert.True(t, back.Equal(original))
}

func TestParseKeyRejectsNonLiterals(t *testing.T) {
	for _, input := range []string{
		`__import__("os").system("ls")`,
		`(1 2)`,
		`(1,) extra`,
		`("a"`,
		`(date(1))`,
		`(date("tomorrow"))`,
		`(open("x"),)`,
		`(1,,)`,
		`("unterminated)`,
		``,
	} {
		_, err := ParseKey(input)
		assert.ErrorIs(t, err, ErrInvalidKey, "input %q", input)
	}
}
