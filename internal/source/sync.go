package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantcore/internal/logger"
	"quantcore/internal/pkg/circuit"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SyncConfig 配置 Syncer。
type SyncConfig struct {
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
	// Retries 是单次拉取失败后的重试次数，<0 表示不重试。
	Retries      int
	RetryBackoff time.Duration
	// BreakerThreshold 次连续失败后熔断 BreakerCooldown。
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Syncer 按缺口分页拉取并写入 Store。
type Syncer struct {
	store         *Store
	source        CandleSource
	limiter       *rate.Limiter
	maxBatch      int
	maxConcurrent int
	retries       int
	backoff       time.Duration
	breaker       *circuit.Breaker
}

// SyncResult 是单个 symbol 的同步结果。
type SyncResult struct {
	Symbol   string
	Inserted int
	Report   IntegrityReport
	Warnings []string
}

func NewSyncer(store *Store, src CandleSource, cfg SyncConfig) (*Syncer, error) {
	if store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if src == nil {
		return nil, fmt.Errorf("数据源不能为空")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 || maxBatch > maxBinanceLimit {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = 2
	} else if retries < 0 {
		retries = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Syncer{
		store:         store,
		source:        src,
		limiter:       rate.NewLimiter(ratePerSec, 1),
		maxBatch:      maxBatch,
		maxConcurrent: maxConcurrent,
		retries:       retries,
		backoff:       backoff,
		breaker:       circuit.NewBreaker("source:"+src.Name(), threshold, cooldown),
	}, nil
}

// Sync 补齐 symbol 在 [start,end] 的缺口；区间已完整时只做检查。
func (s *Syncer) Sync(ctx context.Context, symbol string, tf Timeframe, start, end int64) (SyncResult, error) {
	start, end = tf.AlignRange(start, end)
	res := SyncResult{Symbol: symbol}
	report, err := s.store.CheckIntegrity(ctx, symbol, tf, start, end)
	if err != nil {
		return res, err
	}
	if report.Complete() {
		res.Report = report
		return res, nil
	}
	logger.Infof("[source] %s %s 同步开始：预计=%d 已有=%d 缺口=%d", symbol, tf.Key, report.Expected, report.Present, len(report.Gaps))
	step := tf.Millis()
	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			limit := min(int((gap.To-cursor)/step)+1, s.maxBatch)
			data, err := s.fetch(ctx, FetchRequest{
				Symbol:   symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To + step - 1,
				Limit:    limit,
			})
			if err != nil {
				return res, fmt.Errorf("%s 拉取失败: %w", s.source.Name(), err)
			}
			if len(data) == 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, symbol, tf.Key, data)
			if err != nil {
				return res, fmt.Errorf("写入失败: %w", err)
			}
			res.Inserted += inserted
			next := data[len(data)-1].OpenTime + step
			if next <= cursor {
				break
			}
			cursor = next
		}
	}
	final, err := s.store.CheckIntegrity(ctx, symbol, tf, start, end)
	if err != nil {
		return res, err
	}
	res.Report = final
	if !final.Complete() {
		logger.Warnf("[source] %s %s 同步完成，但仍有 %d 段缺口", symbol, tf.Key, len(final.Gaps))
	} else {
		logger.Infof("[source] %s %s 同步完成，写入 %d 条", symbol, tf.Key, res.Inserted)
	}
	return res, nil
}

// fetch 经限流与熔断调用数据源，失败时按线性退避重试。
func (s *Syncer) fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var data []Candle
		err := s.breaker.Do(func() error {
			var ferr error
			data, ferr = s.source.Fetch(ctx, req)
			return ferr
		})
		if err == nil {
			return data, nil
		}
		if errors.Is(err, circuit.ErrOpen) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		logger.Warnf("[source] %s %s 拉取失败（第 %d 次）: %v", s.source.Name(), req.Symbol, attempt+1, err)
	}
	return nil, lastErr
}

// SyncAll 并发同步多个 symbol，任一失败即取消其余。
func (s *Syncer) SyncAll(ctx context.Context, symbols []string, tf Timeframe, start, end int64) ([]SyncResult, error) {
	results := make([]SyncResult, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i, sym := range symbols {
		g.Go(func() error {
			res, err := s.Sync(gctx, sym, tf, start, end)
			results[i] = res
			if err != nil {
				return fmt.Errorf("sync %s: %w", sym, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
