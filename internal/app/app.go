package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quantcore/internal/config"
	"quantcore/internal/executor"
	"quantcore/internal/logger"
	"quantcore/internal/security"
	"quantcore/internal/source"
	"quantcore/internal/store"
)

// App 负责应用级编排：同步行情→加载历史→并发运行各策略执行器。
type App struct {
	cfg        *config.Config
	securities *security.Registry
	candles    *source.Store
	syncer     *source.Syncer
	loader     *source.Loader
	timeframe  source.Timeframe
	results    *store.ResultStore
	runners    []runner
	Summary    *StartupSummary
}

// runner 绑定一个策略实例与它的执行器。
type runner struct {
	cfg  config.StrategyConfig
	exec *executor.Executor
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 执行一轮完整的回放并输出汇总。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	res, err := a.Execute(ctx)
	a.report(res)
	return err
}

// Execute 同步数据（若开启）后按配置的模式运行全部执行器。
func (a *App) Execute(ctx context.Context) (executor.GroupResult, error) {
	if err := a.sync(ctx); err != nil {
		return executor.GroupResult{}, err
	}
	start, end, err := a.dataRange()
	if err != nil {
		return executor.GroupResult{}, err
	}
	jobs := make([]executor.Job, 0, len(a.runners))
	for _, r := range a.runners {
		job, err := a.buildJob(ctx, r, start, end)
		if err != nil {
			return executor.GroupResult{}, fmt.Errorf("strategy %s: %w", r.cfg.Name, err)
		}
		jobs = append(jobs, job)
	}
	return executor.RunGroup(ctx, jobs, a.cfg.Executor.Concurrency)
}

func (a *App) buildJob(ctx context.Context, r runner, start, end int64) (executor.Job, error) {
	job := executor.Job{Executor: r.exec}
	schema := a.loader.Schema()
	switch a.cfg.Executor.Mode {
	case "stream":
		job.Input = executor.StreamInput(a.loader.Stream(ctx, r.cfg.Symbols, start, end))
		job.Options.InputSchema = &schema
	case "async":
		job.Input = executor.AsyncInput(source.Feed(ctx, a.loader.Stream(ctx, r.cfg.Symbols, start, end)))
		job.Options.InputSchema = &schema
	default:
		h, err := a.loader.Load(ctx, r.cfg.Symbols, start, end)
		if err != nil {
			return job, err
		}
		if h.Len() == 0 {
			logger.Warnf("strategy %s: no candles for %s", r.cfg.Name, strings.Join(r.cfg.Symbols, ","))
		}
		job.Input = executor.BatchInput(h)
	}
	return job, nil
}

func (a *App) sync(ctx context.Context) error {
	if a.syncer == nil {
		return nil
	}
	start, end, err := a.cfg.Data.Range(nowFn())
	if err != nil {
		return err
	}
	results, err := a.syncer.SyncAll(ctx, a.symbols(), a.timeframe, start, end)
	for _, res := range results {
		for _, w := range res.Warnings {
			logger.Warnf("sync %s: %s", res.Symbol, w)
		}
		logger.Infof("✓ %s@%s 同步完成: 新增 %d 根，缺口 %d", res.Symbol, a.timeframe.Key, res.Inserted, len(res.Report.Gaps))
	}
	return err
}

// dataRange 未配置 data.start 时读取全部已落盘数据。
func (a *App) dataRange() (int64, int64, error) {
	if strings.TrimSpace(a.cfg.Data.Start) == "" {
		return 0, 0, nil
	}
	return a.cfg.Data.Range(nowFn())
}

func (a *App) symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range a.runners {
		for _, sym := range r.cfg.Symbols {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

func (a *App) report(res executor.GroupResult) {
	for _, jr := range res.Jobs {
		runID := ""
		if jr.Outcome != nil {
			runID = jr.Outcome.RunID
		}
		if jr.Err != nil {
			logger.Errorf("✗ %s (run=%s) 失败，已产生 %d 个信号: %v", jr.Name, runID, jr.Signals, jr.Err)
			continue
		}
		logger.Infof("✓ %s (run=%s) 完成，信号 %d 个", jr.Name, runID, jr.Signals)
	}
	if res.Position == nil {
		return
	}
	for _, p := range res.Position.Snapshot(nil) {
		logger.Infof("持仓 %s %s %.8g", p.Symbol, p.Side, p.Quantity)
	}
}

// Close 释放数据库连接。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.results != nil {
		errs = append(errs, a.results.Close())
	}
	if a.candles != nil {
		errs = append(errs, a.candles.Close())
	}
	return errors.Join(errs...)
}

// Results 返回结果库；未启用时为 nil。
func (a *App) Results() *store.ResultStore {
	if a == nil {
		return nil
	}
	return a.results
}
