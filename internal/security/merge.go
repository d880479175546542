package security

import (
	"fmt"
	"strings"
)

// MergePolicy 决定合并两个 manager 时同一 token 指向不同证券的处理方式。
type MergePolicy int

const (
	// KeepFirst 保留左侧（默认）。
	KeepFirst MergePolicy = iota
	KeepLast
	// Error 遇到冲突时返回 MergeConflictError。
	Error
)

func (p MergePolicy) String() string {
	switch p {
	case KeepLast:
		return "keep_last"
	case Error:
		return "error"
	default:
		return "keep_first"
	}
}

// ParseMergePolicy 解析配置值，空串返回 KeepFirst。
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep_first", "first":
		return KeepFirst, nil
	case "keep_last", "last":
		return KeepLast, nil
	case "error":
		return Error, nil
	default:
		return KeepFirst, fmt.Errorf("unknown merge policy: %s", s)
	}
}

// MergeConflictError 携带冲突双方。
type MergeConflictError struct {
	Token string
	Left  Security
	Right Security
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("security token %q conflict: %+v vs %+v", e.Token, e.Left, e.Right)
}

// Merge 使用左侧 manager 的策略合并，两侧均不被修改。
func (m *Manager) Merge(other *Manager) (*Manager, error) {
	return m.MergeWith(other, m.MergePolicy())
}

// MergeWith 返回两侧映射的并集；严格模式与默认策略沿用左侧。
func (m *Manager) MergeWith(other *Manager, policy MergePolicy) (*Manager, error) {
	switch {
	case m == nil && other == nil:
		return nil, nil
	case m == nil:
		return other.Clone(), nil
	case other == nil:
		return m.Clone(), nil
	}
	out := m.Clone()
	for tok, sec := range other.snapshot() {
		prev, ok := out.byToken[tok]
		if !ok || prev == sec {
			out.byToken[tok] = sec
			continue
		}
		switch policy {
		case KeepLast:
			out.byToken[tok] = sec
		case Error:
			return nil, &MergeConflictError{Token: tok, Left: prev, Right: sec}
		}
	}
	return out, nil
}
