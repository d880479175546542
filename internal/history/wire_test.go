package history

import (
	"encoding/json"
	"testing"

	"quantcore/internal/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func richFixture(t *testing.T) *History {
	t.Helper()
	m := security.NewManager(security.Security{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple"})
	schema := NewSchema([]Level{LevelDate, LevelSecurity}, []string{"close", "volume", "vwap", "asof", "note"}, m)
	h, err := FromRows(schema,
		Row{Key: Key{"2024-01-02", "AAPL"}, Values: []any{160.5, int64(1200), decimal.RequireFromString("160.125"), day("2024-01-02"), "late"}},
		Row{Key: Key{"2024-01-01", "AAPL"}, Values: []any{155.0, int64(900), decimal.RequireFromString("154.9"), day("2024-01-01"), nil}},
		Row{Key: Key{"2024-01-01", "MSFT"}, Values: []any{255.0, int64(300), decimal.Zero, day("2024-01-01"), "x"}},
	)
	require.NoError(t, err)
	return h
}

func TestDictRoundTrip(t *testing.T) {
	h := richFixture(t)

	back, err := FromDict(h.ToDict(true), true)
	require.NoError(t, err)
	assert.True(t, back.Equal(h), "serialized dict:\n%s\n%s", h, back)

	raw, err := FromDict(h.ToDict(false), false)
	require.NoError(t, err)
	assert.True(t, raw.Equal(h))

	d := h.ToDict(true)
	assert.Equal(t, `(date("2024-01-02T00:00:00Z"), "AAPL")`, d.DF[0].Key)
	assert.Equal(t, map[string]any{"$decimal": "160.125"}, d.DF[0].Values["vwap"])
}

func TestJSONRoundTripKeepsRowOrder(t *testing.T) {
	h := richFixture(t)
	data, err := json.Marshal(h)
	require.NoError(t, err)

	var back History
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(h))

	sec, _ := back.Rows()[0].Key[1].(security.Security)
	assert.Equal(t, "NASDAQ", sec.Exchange)
}

func TestDecodeDictFromGenericMap(t *testing.T) {
	h := fixture(t)
	data, err := h.ToJSON()
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))

	d, err := DecodeDict(generic)
	require.NoError(t, err)
	back, err := FromDict(d, true)
	require.NoError(t, err)
	assert.True(t, back.Equal(h))

	_, err = DecodeDict(map[string]any{"df": []any{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidDataType)
}

func TestFromJSONRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`{"df": [], "schema": {"levels": [], "fields": []}}`,
		`{"df": {}}`,
		`{"df": {"(1,)": 5}, "schema": {"levels": ["DATE"], "fields": []}}`,
	} {
		_, err := FromJSON([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidDataType, "input %s", input)
	}
}

func TestSchemaValueCodec(t *testing.T) {
	s := NewSchema(nil, nil, security.NewManager())
	for _, v := range []any{1.5, int64(3), "x", nil, day("2024-01-01"), decimal.RequireFromString("1.25")} {
		back, err := s.Deserialize(s.Serialize(v))
		require.NoError(t, err)
		assert.True(t, valueEqual(v, back), "%v", v)
	}
	sec, err := s.Deserialize(s.Serialize(security.New("ETH/USDT")))
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", sec.(security.Security).Symbol)

	_, err = s.Deserialize(map[string]any{"$nope": 1})
	assert.ErrorIs(t, err, ErrInvalidDataType)
}
