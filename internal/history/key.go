package history

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/security"

	"github.com/shopspring/decimal"
)

// Key 是一行的复合索引，分量顺序与 Schema.Levels 一致。
type Key []any

func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if !valueEqual(k[i], other[i]) {
			return false
		}
	}
	return true
}

func (k Key) Clone() Key {
	return append(Key(nil), k...)
}

func (k Key) String() string { return FormatKey(k) }

// Equaler 由需要自定义相等语义的字段值实现。
type Equaler interface {
	EqualTo(other any) bool
}

func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case Equaler:
		return x.EqualTo(b)
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

// normalizeKeyPart 统一整数宽度，保证字面量往返后类型一致。
func normalizeKeyPart(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// comparePart 给出 key 分量的全序：时间 < 数值 < 证券 < 字符串 < 其它。
func comparePart(a, b any) int {
	ra, rb := partRank(a), partRank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case time.Time:
		return x.Compare(b.(time.Time))
	case security.Security:
		return strings.Compare(x.Symbol, b.(security.Security).Symbol)
	case string:
		return strings.Compare(x, b.(string))
	}
	if fa, ok := asFloat(a); ok {
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func partRank(v any) int {
	switch v.(type) {
	case time.Time:
		return 0
	case float64, float32, int, int64, int32:
		return 1
	case security.Security:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareKeys(a, b Key) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// FormatKey 将 key 渲染为元组字面量，例如 (date("2024-01-01T00:00:00Z"), "AAPL")。
func FormatKey(k Key) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, part := range k {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(formatPart(part))
	}
	if len(k) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return b.String()
}

func formatPart(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return "date(" + strconv.Quote(t.UTC().Format(time.RFC3339Nano)) + ")"
	case security.Security:
		return strconv.Quote(t.Symbol)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case fmt.Stringer:
		return strconv.Quote(t.String())
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// ParseKey 解析 FormatKey 的输出。只接受字符串、数字、date("...")、true/false/null，
// 不做任何表达式求值。
func ParseKey(s string) (Key, error) {
	p := &keyParser{src: s}
	return p.parse()
}

type keyParser struct {
	src string
	pos int
}

func (p *keyParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d in %q: %s", ErrInvalidKey, p.pos, p.src, fmt.Sprintf(format, args...))
}

func (p *keyParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *keyParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *keyParser) parse() (Key, error) {
	p.skipSpace()
	if p.peek() != '(' {
		return nil, p.errorf("expected '('")
	}
	p.pos++
	key := Key{}
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}
		part, err := p.parsePart()
		if err != nil {
			return nil, err
		}
		key = append(key, part)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
		default:
			return nil, p.errorf("expected ',' or ')'")
		}
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing characters")
	}
	return key, nil
}

func (p *keyParser) parsePart() (any, error) {
	c := p.peek()
	switch {
	case c == '"' || c == '\'':
		return p.parseString()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case strings.HasPrefix(p.src[p.pos:], "date("):
		p.pos += len("date(")
		p.skipSpace()
		raw, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, p.errorf("unterminated date literal")
		}
		p.pos++
		t, err := parseDate(raw)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		return t, nil
	}
	for word, val := range map[string]any{"true": true, "false": false, "null": nil} {
		if strings.HasPrefix(p.src[p.pos:], word) {
			p.pos += len(word)
			return val, nil
		}
	}
	return nil, p.errorf("unexpected character %q", c)
}

func (p *keyParser) parseString() (string, error) {
	rest := p.src[p.pos:]
	if strings.HasPrefix(rest, "\"") {
		quoted, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return "", p.errorf("bad string literal")
		}
		p.pos += len(quoted)
		return strconv.Unquote(quoted)
	}
	if !strings.HasPrefix(rest, "'") {
		return "", p.errorf("expected string literal")
	}
	var b strings.Builder
	for i := 1; i < len(rest); i++ {
		ch := rest[i]
		switch ch {
		case '\\':
			if i+1 >= len(rest) {
				return "", p.errorf("bad escape")
			}
			i++
			b.WriteByte(rest[i])
		case '\'':
			p.pos += i + 1
			return b.String(), nil
		default:
			b.WriteByte(ch)
		}
	}
	return "", p.errorf("unterminated string literal")
}

func (p *keyParser) parseNumber() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte("+-0123456789.eE", p.src[p.pos]) >= 0 {
		p.pos++
	}
	lit := p.src[start:p.pos]
	if !strings.ContainsAny(lit, ".eE") {
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("bad number %q", lit)
	}
	return f, nil
}
