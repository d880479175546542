package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"quantcore/internal/executor"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory 按参数构造策略实例。
type Factory func(params map[string]any) (executor.Strategy, error)

// Registry 维护策略名到构造器的映射。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 构造空 registry。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 登记构造器，名称重复时覆盖。
func (r *Registry) Register(name string, f Factory) {
	key := registryKey(name)
	if key == "" || f == nil {
		panic("strategy 注册失败: 名称与构造器不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
}

func (r *Registry) Factory(name string) (Factory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[registryKey(name)]
	return f, ok
}

// Build 构造策略；未知名称返回 ErrUnknownStrategy。
func (r *Registry) Build(name string, params map[string]any) (executor.Strategy, error) {
	f, ok := r.Factory(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", name, err)
	}
	return s, nil
}

// Names 返回已登记名称（有序）。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default 返回登记了内置策略的 registry。
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		r.Register("hold", func(map[string]any) (executor.Strategy, error) { return Hold{}, nil })
		r.Register("rsi", NewRSI)
		r.Register("bollinger", NewBollinger)
		r.Register("ema_cross", NewEMACross)
		defaultRegistry = r
	})
	return defaultRegistry
}

// Build 使用 Default() 构造策略。
func Build(name string, params map[string]any) (executor.Strategy, error) {
	return Default().Build(name, params)
}
