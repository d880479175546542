package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Symbol
	}{
		{"btc/usdt", Symbol{Base: "BTC", Quote: "USDT"}},
		{"ETH/USDT:USDT", Symbol{Base: "ETH", Quote: "USDT"}},
		{" aapl ", Symbol{Base: "AAPL"}},
		{"btcusdt", Symbol{Base: "BTCUSDT"}},
		{"ABNB", Symbol{Base: "ABNB"}},
		{"", Symbol{}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Parse(tc.in), tc.in)
	}
}

func TestParseExchange(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, ParseExchange("btcusdt"))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, ParseExchange("ETH/USDT"))
	assert.Equal(t, Symbol{Base: "USDT"}, ParseExchange("USDT"))
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"BTCUSDT", "btc/usdt", "msft", "  ", "ABNB"})
	assert.Equal(t, []string{"BTCUSDT", "BTC/USDT", "MSFT", "ABNB"}, got)

	got = NormalizeListWith(Binance, []string{"BTCUSDT", "btc/usdt", "  "})
	assert.Equal(t, []string{"BTC/USDT"}, got)
}

func TestBinanceConverter(t *testing.T) {
	assert.Equal(t, "ETHUSDT", Binance.ToExchange("eth/usdt"))
	assert.Equal(t, "ETH/USDT", Binance.FromExchange("ETHUSDT"))
}
