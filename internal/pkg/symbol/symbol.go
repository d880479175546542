package symbol

import (
	"strings"
)

type Format string

const (
	FormatInternal Format = "internal"
	FormatBinance  Format = "binance"
)

// Converter 在内部 token 与交易所 symbol 之间转换。
type Converter interface {
	ToExchange(internal string) string

	FromExchange(raw string) string

	Format() Format
}

// Symbol 是拆分后的交易对；股票类 token 没有 Quote。
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" {
		return ""
	}
	if s.Quote == "" {
		return s.Base
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// IsPair 表示是否能识别出计价币种。
func (s Symbol) IsPair() bool {
	return s.Base != "" && s.Quote != ""
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

// Parse 只识别显式的 BASE/QUOTE；没有 "/" 的 token 原样大写，不推断计价币种。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	return Symbol{Base: s}
}

// ParseExchange 解析交易所原始 symbol（如 BTCUSDT），按已知计价币种后缀拆分。
func ParseExchange(s string) Symbol {
	sym := Parse(s)
	if sym.Quote != "" {
		return sym
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(sym.Base, quote) && len(sym.Base) > len(quote) {
			return Symbol{
				Base:  sym.Base[:len(sym.Base)-len(quote)],
				Quote: quote,
			}
		}
	}
	return sym
}

// Normalize 返回 token 的规范形式：显式交易对为 BASE/QUOTE，其它为大写原值。
func Normalize(s string) string {
	return Parse(s).Internal()
}

func NormalizeList(symbols []string) []string {
	return normalizeList(symbols, Normalize)
}

// NormalizeListWith 按交易所格式解析后去重，用于配置中的交易所 symbol。
func NormalizeListWith(c Converter, symbols []string) []string {
	return normalizeList(symbols, c.FromExchange)
}

func normalizeList(symbols []string, norm func(string) string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := norm(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func IsValid(s string) bool {
	return Parse(s).Base != ""
}
