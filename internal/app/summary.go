package app

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"quantcore/internal/config"
	"quantcore/internal/source"
)

type StartupSummary struct {
	Data       DataSummary
	Executor   ExecutorSummary
	Levels     []string
	Available  []string
	Strategies []StrategyDetail
}

type DataSummary struct {
	Root      string
	Timeframe string
	Start     string
	End       string
	Sync      bool
}

type ExecutorSummary struct {
	Mode        string
	Concurrency int
	Fill        bool
	PriceField  string
	SlippageBps float64
	StorePath   string
}

type StrategyDetail struct {
	Name    string
	Type    string
	Symbols []string
	Params  map[string]any
}

func buildSummary(cfg *config.Config, tf source.Timeframe, available []string) *StartupSummary {
	s := &StartupSummary{
		Data: DataSummary{
			Root:      cfg.Data.Root,
			Timeframe: tf.Key,
			Start:     cfg.Data.Start,
			End:       cfg.Data.End,
			Sync:      cfg.Data.Sync,
		},
		Executor: ExecutorSummary{
			Mode:        cfg.Executor.Mode,
			Concurrency: cfg.Executor.Concurrency,
			Fill:        cfg.Executor.Fill,
			PriceField:  cfg.Executor.PriceField,
			SlippageBps: cfg.Executor.SlippageBps,
		},
		Levels:    cfg.History.Levels,
		Available: available,
	}
	if cfg.Store.Enabled {
		s.Executor.StorePath = cfg.Store.Path
	}
	for _, sc := range cfg.Strategies {
		s.Strategies = append(s.Strategies, StrategyDetail{
			Name:    sc.Name,
			Type:    sc.Type,
			Symbols: sc.Symbols,
			Params:  sc.Params,
		})
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[K线数据 (CANDLES)]")
	fmt.Fprintf(w, "  数据目录: %s\n", s.Data.Root)
	fmt.Fprintf(w, "  周期: %s\n", s.Data.Timeframe)
	fmt.Fprintf(w, "  区间: %s ~ %s\n", orDash(s.Data.Start), orDash(s.Data.End))
	fmt.Fprintf(w, "  自动同步: %v\n", s.Data.Sync)
	fmt.Fprintf(w, "  索引层级: %s\n", formatList(s.Levels))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[执行器 (EXECUTOR)]")
	fmt.Fprintf(w, "  模式: %s  并发: %d\n", s.Executor.Mode, s.Executor.Concurrency)
	if s.Executor.Fill {
		fmt.Fprintf(w, "  模拟成交: 开启 (价格字段=%s, 滑点=%.2fbps)\n", s.Executor.PriceField, s.Executor.SlippageBps)
	} else {
		fmt.Fprintln(w, "  模拟成交: 关闭")
	}
	fmt.Fprintf(w, "  结果库: %s\n", orDash(s.Executor.StorePath))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	fmt.Fprintf(w, "  可用类型: %s\n", formatList(s.Available))
	if len(s.Strategies) == 0 {
		fmt.Fprintln(w, "  (无配置)")
	}
	for _, st := range s.Strategies {
		fmt.Fprintf(w, "  > %s (类型: %s)\n", st.Name, st.Type)
		fmt.Fprintf(w, "    标的: %s\n", formatList(st.Symbols))
		if len(st.Params) == 0 {
			continue
		}
		fmt.Fprintln(w, "    参数:")
		for _, k := range slices.Sorted(maps.Keys(st.Params)) {
			fmt.Fprintf(w, "      - %s = %v\n", k, st.Params[k])
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
