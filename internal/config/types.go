package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 quantcore 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	History    HistoryConfig    `toml:"history"`
	Securities SecuritiesConfig `toml:"securities"`
	Data       DataConfig       `toml:"data"`
	Binance    BinanceConfig    `toml:"binance"`
	Executor   ExecutorConfig   `toml:"executor"`
	Strategies []StrategyConfig `toml:"strategies"`
	Store      StoreConfig      `toml:"store"`

	// Files 是实际读取的配置文件，include 在前，主文件在最后。
	Files []string `toml:"-"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
	LogStdout     bool   `toml:"log_stdout"`
	SignalDump    bool   `toml:"signal_dump"`
}

// HistoryConfig 决定输入 History 的层级。
type HistoryConfig struct {
	Levels []string `toml:"levels"`
}

// WithInterval 报告层级中是否包含 INTERVAL。
func (h HistoryConfig) WithInterval() bool {
	for _, l := range h.Levels {
		if strings.EqualFold(strings.TrimSpace(l), "INTERVAL") {
			return true
		}
	}
	return false
}

type SecuritiesConfig struct {
	RegistryPath string   `toml:"registry_path"`
	Watch        bool     `toml:"watch"`
	Symbols      []string `toml:"symbols"`
	MergePolicy  string   `toml:"merge_policy"`
}

// DataConfig 描述 K 线数据的位置与区间。
type DataConfig struct {
	Root      string `toml:"root"`
	Timeframe string `toml:"timeframe"`
	Start     string `toml:"start"`
	End       string `toml:"end"`
	Sync      bool   `toml:"sync"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseConfigTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}

// Range 返回 [start,end] 的 Unix 毫秒；end 为空时取 now。
func (d DataConfig) Range(now time.Time) (int64, int64, error) {
	if strings.TrimSpace(d.Start) == "" {
		return 0, 0, fmt.Errorf("data.start cannot be empty")
	}
	start, err := parseConfigTime(d.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("data.start: %w", err)
	}
	end := now.UTC()
	if strings.TrimSpace(d.End) != "" {
		if end, err = parseConfigTime(d.End); err != nil {
			return 0, 0, fmt.Errorf("data.end: %w", err)
		}
	}
	if !end.After(start) {
		return 0, 0, fmt.Errorf("data.end must be after data.start")
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

type BinanceConfig struct {
	RESTBaseURL     string `toml:"rest_base_url"`
	ProxyURL        string `toml:"proxy_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
	// MaxRetries 为 0 时使用默认值，-1 关闭重试。
	MaxRetries int `toml:"max_retries"`
}

// ExecutorConfig 控制运行方式与模拟成交。
type ExecutorConfig struct {
	Mode        string  `toml:"mode"`
	Concurrency int     `toml:"concurrency"`
	Fill        bool    `toml:"fill"`
	PriceField  string  `toml:"price_field"`
	SlippageBps float64 `toml:"slippage_bps"`
}

// StrategyConfig 是一个执行器实例：策略类型、参数与交易标的。
type StrategyConfig struct {
	Name    string         `toml:"name"`
	Type    string         `toml:"type"`
	Symbols []string       `toml:"symbols"`
	Params  map[string]any `toml:"params"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
