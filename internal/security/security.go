// Package security 维护证券 token 到规范 Security 的映射。
package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"quantcore/internal/pkg/symbol"
)

var (
	// ErrMissingSecurityManager 表示没有可用的 security manager，或 manager 无法解析 token。
	ErrMissingSecurityManager = errors.New("missing or invalid security manager: configure a valid security manager")
	// ErrUnknownSecurity 表示严格模式下 token 未注册。
	ErrUnknownSecurity = fmt.Errorf("unknown security token (%w)", ErrMissingSecurityManager)
	ErrInvalidToken    = errors.New("invalid security token")
)

// Security 是规范化后的证券标识，可比较、可作为 map key。
type Security struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Base     string `json:"base,omitempty" yaml:"base,omitempty"`
	Quote    string `json:"quote,omitempty" yaml:"quote,omitempty"`
	Exchange string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// New 由原始 token 构造 Security。没有 "/" 的 token 视为单一代码（如股票），不拆分计价币种。
func New(token string) Security {
	sym := symbol.Parse(token)
	return Security{
		Symbol: sym.Internal(),
		Base:   sym.Base,
		Quote:  sym.Quote,
	}
}

func (s Security) String() string { return s.Symbol }

func (s Security) IsZero() bool { return s.Symbol == "" }

// Manager 将 token 解析为 Security。非严格模式下未知 token 会在首次 Get 时注册。
type Manager struct {
	mu      sync.RWMutex
	byToken map[string]Security
	strict  bool
	policy  MergePolicy
}

// NewManager 创建非严格 manager，可预先注册证券。
func NewManager(securities ...Security) *Manager {
	m := &Manager{byToken: make(map[string]Security, len(securities))}
	for _, sec := range securities {
		_ = m.Register(sec)
	}
	return m
}

// NewStrictManager 创建只接受已注册 token 的 manager。
func NewStrictManager(securities ...Security) *Manager {
	m := NewManager(securities...)
	m.strict = true
	return m
}

func normalizeToken(token string) string {
	return symbol.Normalize(token)
}

// Strict 返回是否为严格模式。
func (m *Manager) Strict() bool {
	if m == nil {
		return false
	}
	return m.strict
}

// SetMergePolicy 设置 Merge 默认使用的冲突策略。
func (m *Manager) SetMergePolicy(p MergePolicy) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
}

func (m *Manager) MergePolicy() MergePolicy {
	if m == nil {
		return KeepFirst
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Register 注册证券及其别名；同一 token 指向不同证券时返回错误。
func (m *Manager) Register(sec Security, aliases ...string) error {
	if m == nil {
		return ErrMissingSecurityManager
	}
	raw := sec.Symbol
	sec = canonical(sec)
	if sec.IsZero() {
		return fmt.Errorf("%w: empty symbol", ErrInvalidToken)
	}
	tokens := append([]string{sec.Symbol, raw}, aliases...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byToken == nil {
		m.byToken = make(map[string]Security)
	}
	for _, raw := range tokens {
		tok := normalizeToken(raw)
		if tok == "" {
			continue
		}
		if prev, ok := m.byToken[tok]; ok && prev != sec {
			return &MergeConflictError{Token: tok, Left: prev, Right: sec}
		}
		m.byToken[tok] = sec
	}
	return nil
}

// canonical 规范化 Security；显式给出 base/quote 且 symbol 恰为二者拼接时改写为 BASE/QUOTE。
func canonical(sec Security) Security {
	parsed := symbol.Parse(sec.Symbol)
	base := strings.ToUpper(strings.TrimSpace(sec.Base))
	quote := strings.ToUpper(strings.TrimSpace(sec.Quote))
	if parsed.Quote == "" && base != "" && quote != "" && parsed.Base == base+quote {
		parsed = symbol.Symbol{Base: base, Quote: quote}
	}
	sec.Symbol = parsed.Internal()
	sec.Base = base
	if sec.Base == "" {
		sec.Base = parsed.Base
	}
	sec.Quote = quote
	if sec.Quote == "" {
		sec.Quote = parsed.Quote
	}
	sec.Exchange = strings.ToUpper(strings.TrimSpace(sec.Exchange))
	sec.Name = strings.TrimSpace(sec.Name)
	return sec
}

// Get 解析 token；对已经规范化的 Security 再次调用返回同一值。
func (m *Manager) Get(token any) (Security, error) {
	if m == nil {
		return Security{}, ErrMissingSecurityManager
	}
	var (
		raw   string
		given *Security
	)
	switch t := token.(type) {
	case Security:
		raw, given = t.Symbol, &t
	case *Security:
		if t == nil {
			return Security{}, fmt.Errorf("%w: nil security", ErrInvalidToken)
		}
		raw, given = t.Symbol, t
	case string:
		raw = t
	case fmt.Stringer:
		raw = t.String()
	default:
		return Security{}, fmt.Errorf("%w: unsupported token type %T", ErrInvalidToken, token)
	}
	tok := normalizeToken(raw)
	if tok == "" {
		return Security{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	m.mu.RLock()
	sec, ok := m.byToken[tok]
	strict := m.strict
	m.mu.RUnlock()
	if ok {
		return sec, nil
	}
	if strict {
		return Security{}, fmt.Errorf("%w: %q", ErrUnknownSecurity, raw)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sec, ok := m.byToken[tok]; ok {
		return sec, nil
	}
	if m.byToken == nil {
		m.byToken = make(map[string]Security)
	}
	sec = New(tok)
	if given != nil {
		sec = canonical(*given)
	}
	m.byToken[tok] = sec
	return sec, nil
}

// Lookup 只读查询，不会注册新 token。
func (m *Manager) Lookup(token any) (Security, bool) {
	if m == nil {
		return Security{}, false
	}
	var raw string
	switch t := token.(type) {
	case Security:
		raw = t.Symbol
	case string:
		raw = t
	case fmt.Stringer:
		raw = t.String()
	default:
		return Security{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, ok := m.byToken[normalizeToken(raw)]
	return sec, ok
}

// Tokens 返回已注册 token（排序后）。
func (m *Manager) Tokens() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byToken))
	for tok := range m.byToken {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byToken)
}

func (m *Manager) snapshot() map[string]Security {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Security, len(m.byToken))
	for k, v := range m.byToken {
		out[k] = v
	}
	return out
}

// Clone 返回内容独立的副本。
func (m *Manager) Clone() *Manager {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	strict, policy := m.strict, m.policy
	m.mu.RUnlock()
	return &Manager{byToken: m.snapshot(), strict: strict, policy: policy}
}

// Equal 比较映射内容；两个 nil manager 视为相等。
func (m *Manager) Equal(other *Manager) bool {
	if m == nil || other == nil {
		return m.Len() == 0 && other.Len() == 0
	}
	a, b := m.snapshot(), other.snapshot()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// ToMap 输出 token -> 证券字段 的嵌套结构。
func (m *Manager) ToMap() map[string]any {
	out := make(map[string]any)
	for tok, sec := range m.snapshot() {
		entry := map[string]any{"symbol": sec.Symbol}
		if sec.Base != "" {
			entry["base"] = sec.Base
		}
		if sec.Quote != "" {
			entry["quote"] = sec.Quote
		}
		if sec.Exchange != "" {
			entry["exchange"] = sec.Exchange
		}
		if sec.Name != "" {
			entry["name"] = sec.Name
		}
		out[tok] = entry
	}
	return out
}

// ManagerFromMap 是 ToMap 的逆操作，返回非严格 manager。
func ManagerFromMap(raw map[string]any) (*Manager, error) {
	m := NewManager()
	for tok, v := range raw {
		entry, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("security_manager.%s: expected object, got %T", tok, v)
		}
		sec := Security{
			Symbol:   stringOf(entry["symbol"]),
			Base:     stringOf(entry["base"]),
			Quote:    stringOf(entry["quote"]),
			Exchange: stringOf(entry["exchange"]),
			Name:     stringOf(entry["name"]),
		}
		if sec.Symbol == "" {
			sec.Symbol = tok
		}
		key := normalizeToken(tok)
		if key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidToken, tok)
		}
		m.byToken[key] = canonical(sec)
	}
	return m, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
