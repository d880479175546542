package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantcore/internal/config"
	"quantcore/internal/executor"
	"quantcore/internal/logger"
	"quantcore/internal/security"
	"quantcore/internal/source"
	"quantcore/internal/store"
	"quantcore/internal/strategy"
)

var nowFn = time.Now

type AppBuilder struct {
	cfg *config.Config

	candleSourceFn func(config.BinanceConfig) (source.CandleSource, error)
	resultStoreFn  func(string) (*store.ResultStore, error)
	strategies     *strategy.Registry
}

type AppBuilderOption func(*AppBuilder)

// WithCandleSource 替换同步使用的行情源。
func WithCandleSource(src source.CandleSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.candleSourceFn = func(config.BinanceConfig) (source.CandleSource, error) { return src, nil }
	}
}

// WithStrategyRegistry 替换默认策略注册表。
func WithStrategyRegistry(r *strategy.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.strategies = r }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		candleSourceFn: buildBinanceSource,
		resultStoreFn:  store.NewResultStore,
		strategies:     strategy.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildBinanceSource(cfg config.BinanceConfig) (source.CandleSource, error) {
	return source.NewBinanceSource(source.BinanceConfig{
		BaseURL:     cfg.RESTBaseURL,
		ProxyURL:    cfg.ProxyURL,
		HTTPTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	app = &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	securities, err := b.buildSecurities(app)
	if err != nil {
		return nil, err
	}
	tf, err := source.ParseTimeframe(cfg.Data.Timeframe)
	if err != nil {
		return nil, err
	}
	app.timeframe = tf

	if app.candles, err = source.NewStore(cfg.Data.Root); err != nil {
		return nil, fmt.Errorf("打开 K 线库失败: %w", err)
	}
	if cfg.Data.Sync {
		src, err := b.candleSourceFn(cfg.Binance)
		if err != nil {
			return nil, fmt.Errorf("初始化行情源失败: %w", err)
		}
		app.syncer, err = source.NewSyncer(app.candles, src, source.SyncConfig{
			RateLimitPerMin: cfg.Binance.RateLimitPerMin,
			MaxBatch:        cfg.Binance.MaxBatch,
			MaxConcurrent:   cfg.Binance.MaxConcurrent,
			Retries:         cfg.Binance.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
	}
	schema := source.CandleSchema(securities, cfg.History.WithInterval())
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	app.loader = source.NewLoader(app.candles, schema, tf)

	if cfg.Store.Enabled {
		if app.results, err = b.resultStoreFn(cfg.Store.Path); err != nil {
			return nil, fmt.Errorf("打开结果库失败: %w", err)
		}
	}

	for _, sc := range cfg.Strategies {
		r, err := b.buildRunner(sc, app.results)
		if err != nil {
			return nil, err
		}
		app.runners = append(app.runners, r)
		logger.Infof("✓ 策略 %s (%s) 已就绪: %s", sc.Name, sc.Type, strings.Join(sc.Symbols, ", "))
	}
	app.Summary = buildSummary(cfg, tf, b.strategies.Names())
	return app, nil
}

// buildSecurities 优先使用证券文件；否则按配置的合并策略新建空 manager。
func (b *AppBuilder) buildSecurities(app *App) (*security.Manager, error) {
	cfg := b.cfg.Securities
	policy, err := security.ParseMergePolicy(cfg.MergePolicy)
	if err != nil {
		return nil, err
	}
	var mgr *security.Manager
	if strings.TrimSpace(cfg.RegistryPath) != "" {
		reg, err := security.NewRegistry(cfg.RegistryPath, cfg.Watch)
		if err != nil {
			return nil, fmt.Errorf("加载证券文件失败: %w", err)
		}
		reg.OnChange(func(snap security.Snapshot) {
			logger.Infof("证券文件已重载（%d 个证券），下一轮运行生效", snap.Manager.Len())
		})
		app.securities = reg
		mgr = reg.Manager()
	} else {
		mgr = security.NewManager()
	}
	mgr.SetMergePolicy(policy)
	return mgr, nil
}

func (b *AppBuilder) buildRunner(sc config.StrategyConfig, results *store.ResultStore) (runner, error) {
	strat, err := b.strategies.Build(sc.Type, sc.Params)
	if err != nil {
		return runner{}, fmt.Errorf("strategy %s: %w", sc.Name, err)
	}
	opts := []executor.Option{executor.WithName(sc.Name)}
	if results != nil {
		opts = append(opts, executor.WithRecorder(results))
	}
	if b.cfg.Executor.Fill {
		opts = append(opts, executor.WithFiller(executor.MarketFiller{
			PriceField:  b.cfg.Executor.PriceField,
			SlippageBps: b.cfg.Executor.SlippageBps,
		}))
	}
	return runner{cfg: sc, exec: executor.New(strat, opts...)}, nil
}
