package executor

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"quantcore/internal/history"
	"quantcore/internal/types"
)

// Mode 标识输入类型。
type Mode int

const (
	ModeBatch Mode = iota + 1
	ModeStream
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModeStream:
		return "stream"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Input 是 {Batch, Stream, Async} 的标签联合，由调用方通过构造函数显式选择。
type Input struct {
	kind   Mode
	batch  *history.History
	stream iter.Seq2[history.Observation, error]
	async  AsyncSource
}

// BatchInput 以完整 History 作为输入。
func BatchInput(h *history.History) Input { return Input{kind: ModeBatch, batch: h} }

// StreamInput 以同步拉取序列作为输入；序列产生的错误会终止运行。
func StreamInput(seq iter.Seq2[history.Observation, error]) Input {
	return Input{kind: ModeStream, stream: seq}
}

// ObservationStream 将不会出错的观测序列包装为 StreamInput 所需的形式。
func ObservationStream(seq iter.Seq[history.Observation]) iter.Seq2[history.Observation, error] {
	return func(yield func(history.Observation, error) bool) {
		for obs := range seq {
			if !yield(obs, nil) {
				return
			}
		}
	}
}

// AsyncInput 以异步拉取源作为输入。
func AsyncInput(src AsyncSource) Input { return Input{kind: ModeAsync, async: src} }

func (in Input) Mode() Mode { return in.kind }

func (in Input) empty() bool {
	switch in.kind {
	case ModeBatch:
		return in.batch == nil
	case ModeStream:
		return in.stream == nil
	case ModeAsync:
		return in.async == nil
	}
	return true
}

// release 关闭未被运行接管的异步输入源。
func (in Input) release() {
	if c, ok := in.async.(io.Closer); ok {
		_ = c.Close()
	}
}

// AsyncSource 是异步观测源。Next 在没有更多数据时返回 io.EOF，ctx 取消时返回 ctx.Err()。
type AsyncSource interface {
	Next(ctx context.Context) (history.Observation, error)
}

// ChanSource 将 channel 适配为 AsyncSource；channel 关闭视为结束。
type ChanSource struct {
	items <-chan history.Observation
	errs  <-chan error
	stop  context.CancelFunc
	once  sync.Once
}

// NewChanSource 的 errs 可为 nil。
func NewChanSource(items <-chan history.Observation, errs <-chan error) *ChanSource {
	return &ChanSource{items: items, errs: errs}
}

// WithStop 设置 Close 时调用的生产端停止函数。
func (c *ChanSource) WithStop(stop context.CancelFunc) *ChanSource {
	c.stop = stop
	return c
}

// Close 通知生产端停止推送，可重复调用。
func (c *ChanSource) Close() error {
	c.once.Do(func() {
		if c.stop != nil {
			c.stop()
		}
	})
	return nil
}

func (c *ChanSource) Next(ctx context.Context) (history.Observation, error) {
	select {
	case <-ctx.Done():
		return history.Observation{}, ctx.Err()
	case err, ok := <-c.errs:
		if !ok {
			c.errs = nil
		} else if err != nil {
			return history.Observation{}, err
		}
		return c.Next(ctx)
	case obs, ok := <-c.items:
		if !ok {
			return history.Observation{}, io.EOF
		}
		return obs, nil
	}
}

// stream 返回惰性、只能消费一次的信号序列。
func (r *run) stream(ctx context.Context, seq iter.Seq2[history.Observation, error]) iter.Seq2[types.Decision, error] {
	var once sync.Once
	return func(yield func(types.Decision, error) bool) {
		first := false
		once.Do(func() { first = true })
		if !first {
			yield(types.Decision{}, ErrStreamConsumed)
			return
		}
		if !r.exec.acquire() {
			yield(types.Decision{}, ErrBusy)
			return
		}
		r.start(ctx)
		var runErr error
		defer func() { r.finish(ctx, runErr) }()
		for obs, err := range seq {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				runErr = err
				yield(types.Decision{}, err)
				return
			}
			d, err := r.step(ctx, obs)
			if err != nil {
				runErr = err
				yield(types.Decision{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// AsyncStream 由调用方逐条驱动；只在等待输入时挂起。
type AsyncStream struct {
	mu   sync.Mutex
	run  *run
	src  AsyncSource
	done bool
	err  error
}

// Next 拉取下一条观测并执行单步。输入耗尽时返回 io.EOF。
// ctx 取消后不会再调用策略，日志中恰好保留已处理的观测。
func (s *AsyncStream) Next(ctx context.Context) (types.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		if s.err != nil {
			return types.Decision{}, s.err
		}
		return types.Decision{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return types.Decision{}, s.fail(ctx, err)
	}
	obs, err := s.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.done = true
		s.closeSource()
		s.run.finish(ctx, nil)
		return types.Decision{}, io.EOF
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return types.Decision{}, s.fail(ctx, err)
	}
	d, err := s.run.step(ctx, obs)
	if err != nil {
		return types.Decision{}, s.fail(ctx, err)
	}
	return d, nil
}

func (s *AsyncStream) fail(ctx context.Context, err error) error {
	s.done = true
	s.err = err
	s.closeSource()
	s.run.finish(ctx, err)
	return err
}

// Close 提前结束消费，运行记为完成，并关闭实现了 io.Closer 的输入源。
func (s *AsyncStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	err := s.closeSource()
	s.run.finish(context.Background(), nil)
	return err
}

func (s *AsyncStream) closeSource() error {
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Log 返回本次运行的日志 History。
func (s *AsyncStream) Log() *history.History { return s.run.log }

// Collect 消费全部剩余输入并返回信号。
func (s *AsyncStream) Collect(ctx context.Context) ([]types.Decision, error) {
	var out []types.Decision
	for {
		d, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}
