package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
strict: true
merge_policy: keep_last
securities:
  - symbol: AAPL
    name: Apple Inc.
    exchange: nasdaq
    aliases: [APPLE]
  - symbol: BTCUSDT
    base: BTC
    quote: USDT
`

func TestRegistryLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	reg, err := NewRegistry(path, false)
	require.NoError(t, err)
	m := reg.Manager()
	assert.True(t, m.Strict())
	assert.Equal(t, KeepLast, m.MergePolicy())

	sec, err := m.Get("apple")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sec.Symbol)
	assert.Equal(t, "NASDAQ", sec.Exchange)

	btc, err := m.Get("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "USDT", btc.Quote)

	_, err = m.Get("TSLA")
	assert.ErrorIs(t, err, ErrUnknownSecurity)
	assert.Equal(t, int64(1), reg.Snapshot().Version)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing symbol": "securities:\n  - name: x\n",
		"unknown field":  "securities:\n  - symbol: A\n    ticker: B\n",
		"bad policy":     "merge_policy: sometimes\nsecurities: []\n",
		"not an object":  "- a\n- b\n",
	}
	for name, body := range cases {
		_, err := Parse([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestNewRegistryRequiresPath(t *testing.T) {
	_, err := NewRegistry(" ", false)
	assert.Error(t, err)
}
