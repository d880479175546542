package config

import (
	"fmt"
	"strings"

	symbolpkg "quantcore/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "logs/quantcore.log"
	defaultAppLogMaxSizeMB = 100
	defaultMergePolicy     = "keep_first"
	defaultDataRoot        = "data/candles"
	defaultDataTimeframe   = "1h"
	defaultBinanceREST     = "https://fapi.binance.com"
	defaultBinanceTimeout  = 15
	defaultBinanceRate     = 1200
	defaultBinanceBatch    = 1000
	defaultBinanceParallel = 2
	defaultExecutorMode    = "batch"
	defaultExecutorWorkers = 4
	defaultPriceField      = "close"
	defaultStorePath       = "data/results.db"
)

var defaultHistoryLevels = []string{"DATE", "SECURITY"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.History.applyDefaults(keys)
	c.Securities.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	for i := range c.Strategies {
		c.Strategies[i].applyDefaults(i, c.Securities.Symbols)
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultAppLogMaxSizeMB),
		boolFieldDefault("app.log_stdout", &a.LogStdout, true),
	)
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	if len(h.Levels) == 0 && !keys.isSet("history.levels") {
		h.Levels = append([]string(nil), defaultHistoryLevels...)
	}
	for i, l := range h.Levels {
		h.Levels[i] = strings.ToUpper(strings.TrimSpace(l))
	}
}

func (s *SecuritiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("securities.merge_policy", &s.MergePolicy, defaultMergePolicy),
	)
	s.Symbols = symbolpkg.NormalizeListWith(symbolpkg.Binance, s.Symbols)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("binance.timeout_seconds", &b.TimeoutSeconds, defaultBinanceTimeout),
		intFieldDefault("binance.rate_limit_per_min", &b.RateLimitPerMin, defaultBinanceRate),
		intFieldDefault("binance.max_batch", &b.MaxBatch, defaultBinanceBatch),
		intFieldDefault("binance.max_concurrent", &b.MaxConcurrent, defaultBinanceParallel),
	)
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("executor.mode", &e.Mode, defaultExecutorMode),
		intFieldDefault("executor.concurrency", &e.Concurrency, defaultExecutorWorkers),
		stringFieldDefault("executor.price_field", &e.PriceField, defaultPriceField),
		boolFieldDefault("executor.fill", &e.Fill, true),
	)
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("store.enabled", &s.Enabled, true),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

// applyDefaults 补齐实例名，并在未指定标的时继承 securities.symbols。
func (s *StrategyConfig) applyDefaults(idx int, symbols []string) {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if strings.TrimSpace(s.Name) == "" {
		s.Name = fmt.Sprintf("%s_%d", s.Type, idx)
	}
	if len(s.Symbols) == 0 {
		s.Symbols = append([]string(nil), symbols...)
	}
	s.Symbols = symbolpkg.NormalizeListWith(symbolpkg.Binance, s.Symbols)
	if s.Params == nil {
		s.Params = map[string]any{}
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
