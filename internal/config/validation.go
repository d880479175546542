package config

import (
	"fmt"
	"strings"
	"time"

	"quantcore/internal/history"
	"quantcore/internal/security"
	"quantcore/internal/source"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.History.validate(); err != nil {
		return err
	}
	if err := c.Securities.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if c.Data.Sync {
		if err := c.Binance.validate(); err != nil {
			return err
		}
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := validateStrategies(c.Strategies); err != nil {
		return err
	}
	if c.Store.Enabled && strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty when store is enabled")
	}
	return nil
}

func (h *HistoryConfig) validate() error {
	levels := make([]history.Level, 0, len(h.Levels))
	for _, raw := range h.Levels {
		l, err := history.ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("history.levels: %w", err)
		}
		levels = append(levels, l)
	}
	schema := history.NewSchema(levels, nil, security.NewManager())
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("history.levels: %w", err)
	}
	if !schema.HasLevel(history.LevelDate) || !schema.HasLevel(history.LevelSecurity) {
		return fmt.Errorf("history.levels must include DATE and SECURITY")
	}
	for _, l := range levels {
		if l != history.LevelDate && l != history.LevelSecurity && l != history.LevelInterval {
			return fmt.Errorf("history.levels: candle data has no %s level", l)
		}
	}
	return nil
}

func (s *SecuritiesConfig) validate() error {
	if _, err := security.ParseMergePolicy(s.MergePolicy); err != nil {
		return fmt.Errorf("securities.merge_policy: %w", err)
	}
	if s.Watch && strings.TrimSpace(s.RegistryPath) == "" {
		return fmt.Errorf("securities.watch requires registry_path")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	if !IsValidInterval(d.Timeframe) {
		return fmt.Errorf("data.timeframe %q is not an interval", d.Timeframe)
	}
	if _, err := source.ParseTimeframe(d.Timeframe); err != nil {
		return fmt.Errorf("data.timeframe: %w", err)
	}
	if strings.TrimSpace(d.Start) != "" {
		if _, _, err := d.Range(time.Now()); err != nil {
			return err
		}
	} else if d.Sync {
		return fmt.Errorf("data.sync requires data.start")
	}
	return nil
}

func (b *BinanceConfig) validate() error {
	if strings.TrimSpace(b.RESTBaseURL) == "" {
		return fmt.Errorf("binance.rest_base_url cannot be empty")
	}
	if b.MaxBatch > 1500 {
		return fmt.Errorf("binance.max_batch must be <= 1500")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	switch e.Mode {
	case "batch", "stream", "async":
	default:
		return fmt.Errorf("executor.mode must be batch, stream or async, got %q", e.Mode)
	}
	if e.SlippageBps < 0 {
		return fmt.Errorf("executor.slippage_bps must be >= 0")
	}
	return nil
}

func validateStrategies(list []StrategyConfig) error {
	if len(list) == 0 {
		return fmt.Errorf("strategies requires at least one entry")
	}
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		if s.Type == "" {
			return fmt.Errorf("strategy %s missing type", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name %s", s.Name)
		}
		seen[s.Name] = true
		if len(s.Symbols) == 0 {
			return fmt.Errorf("strategy %s has no symbols (set strategies[].symbols or securities.symbols)", s.Name)
		}
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
