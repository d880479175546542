// Package executor 驱动 Strategy 逐条消费观测并产生信号。
//
// 三种输入（批量 History、同步迭代器、异步拉取源）共用同一个单步流程：
// 先记入日志，再调用策略，最后写入输出。
package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"quantcore/internal/history"
	"quantcore/internal/logger"
	"quantcore/internal/types"

	"github.com/google/uuid"
)

var (
	ErrMissingInput       = errors.New("executor: missing input")
	ErrNoStrategy         = errors.New("executor: no strategy configured")
	ErrMissingInputSchema = errors.New("executor: streaming input requires an input schema")
	ErrBusy               = errors.New("executor: run already in progress")
	ErrStreamConsumed     = errors.New("executor: signal stream already consumed")
)

// SignalField 是合成输出 History 的唯一字段。
const SignalField = "signal"

// State 是执行器的生命周期状态。
type State int32

const (
	Idle State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Strategy 根据当前观测、已记录的历史（含当前观测）和持仓给出决定。
// 实现必须把 log 与 position 视为只读。
type Strategy interface {
	Execute(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error)
}

// StrategyFunc 让普通函数实现 Strategy。
type StrategyFunc func(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error)

func (f StrategyFunc) Execute(obs history.Observation, log *history.History, position *types.Inventory) (types.Decision, error) {
	return f(obs, log, position)
}

// Executor 持有策略与持仓。同一实例同一时间只能执行一个 Run。
type Executor struct {
	name     string
	strategy Strategy
	position *types.Inventory
	recorder Recorder
	filler   Filler

	state atomic.Int32
	mu    sync.Mutex
	runID string
}

type Option func(*Executor)

func WithName(name string) Option { return func(e *Executor) { e.name = name } }

func WithPosition(inv *types.Inventory) Option { return func(e *Executor) { e.position = inv } }

func WithRecorder(r Recorder) Option { return func(e *Executor) { e.recorder = r } }

// WithFiller 在每步之后将决定撮合为订单并更新持仓。
func WithFiller(f Filler) Option { return func(e *Executor) { e.filler = f } }

func New(strategy Strategy, opts ...Option) *Executor {
	e := &Executor{strategy: strategy}
	for _, opt := range opts {
		opt(e)
	}
	if e.filler != nil && e.position == nil {
		e.position = types.NewInventory()
	}
	if e.name == "" {
		e.name = "executor"
	}
	return e
}

func (e *Executor) Name() string { return e.name }

func (e *Executor) State() State { return State(e.state.Load()) }

func (e *Executor) Position() *types.Inventory { return e.position }

// RunID 返回最近一次 Run 的 ID。
func (e *Executor) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// RunOptions 对应一次 Run 的可选参数。
type RunOptions struct {
	// Output 为空时按输入层级合成 fields=["signal"] 的 History；仅批量模式写入。
	Output *history.History
	// InputSchema 非批量输入必填。
	InputSchema *history.Schema
	// Log 为空时以输入 schema 新建。
	Log *history.History
}

// Outcome 是 Run 的结果。批量模式填充 Output；同步流填充 Signals；异步流填充 Async。
type Outcome struct {
	RunID   string
	Mode    Mode
	Log     *history.History
	Output  *history.History
	Signals iter.Seq2[types.Decision, error]
	Async   *AsyncStream
}

// Run 校验前置条件后按输入类型分派。前置条件失败时不消费任何输入。
// 批量模式出错时同时返回错误和已累积的输出。
func (e *Executor) Run(ctx context.Context, in Input, opts RunOptions) (*Outcome, error) {
	if in.empty() {
		return nil, ErrMissingInput
	}
	if e.strategy == nil {
		return nil, ErrNoStrategy
	}
	var schema history.Schema
	if in.kind == ModeBatch {
		schema = in.batch.Schema()
	} else {
		if opts.InputSchema == nil {
			return nil, ErrMissingInputSchema
		}
		schema = *opts.InputSchema
	}

	r := e.newRun(in.kind, schema, opts)
	out := &Outcome{RunID: r.info.ID, Mode: in.kind, Log: r.log}
	if in.kind == ModeStream {
		// 同步流在首次拉取时才占用执行器并开始运行。
		out.Signals = r.stream(ctx, in.stream)
		return out, nil
	}
	if !e.acquire() {
		return nil, ErrBusy
	}
	r.start(ctx)
	switch in.kind {
	case ModeBatch:
		out.Output = r.output
		err := r.runBatch(ctx, in.batch)
		return out, err
	case ModeAsync:
		out.Async = &AsyncStream{run: r, src: in.async}
	}
	return out, nil
}

// acquire 将执行器从任一空闲态切换到 Running。
func (e *Executor) acquire() bool {
	return e.state.CompareAndSwap(int32(Idle), int32(Running)) ||
		e.state.CompareAndSwap(int32(Done), int32(Running)) ||
		e.state.CompareAndSwap(int32(Failed), int32(Running))
}

type run struct {
	exec     *Executor
	info     RunInfo
	log      *history.History
	output   *history.History
	seq      int
	finished bool
}

func (e *Executor) newRun(mode Mode, schema history.Schema, opts RunOptions) *run {
	log := opts.Log
	if log == nil {
		log = history.Empty(schema)
	}
	var output *history.History
	if mode == ModeBatch {
		output = opts.Output
		if output == nil {
			output = history.Empty(history.NewSchema(schema.Levels, []string{SignalField}, schema.Securities))
		}
	}
	return &run{
		exec:   e,
		log:    log,
		output: output,
		info: RunInfo{
			ID:       uuid.NewString(),
			Executor: e.name,
			Strategy: fmt.Sprintf("%T", e.strategy),
			Mode:     mode,
			State:    Running,
		},
	}
}

// start 在执行器已切到 Running 后登记本次运行。
func (r *run) start(ctx context.Context) {
	e := r.exec
	r.info.StartedAt = time.Now()
	e.mu.Lock()
	e.runID = r.info.ID
	e.mu.Unlock()
	logger.Infof("[executor] %s run %s started (%s)", e.name, r.info.ID, r.info.Mode)
	if e.recorder != nil {
		if err := e.recorder.RunStarted(ctx, r.info); err != nil {
			logger.Warnf("[executor] record run %s start failed: %v", r.info.ID, err)
		}
	}
}

// step 是三种模式共用的单步：记日志 → 调策略 → 写输出 → 撮合。
func (r *run) step(ctx context.Context, obs history.Observation) (types.Decision, error) {
	bound, err := r.log.AppendObservation(obs)
	if err != nil {
		return types.Decision{}, fmt.Errorf("log observation %s: %w", history.FormatKey(obs.Key), err)
	}
	e := r.exec
	decision, err := e.strategy.Execute(bound, r.log, e.position)
	if err != nil {
		return types.Decision{}, fmt.Errorf("strategy at %s: %w", history.FormatKey(bound.Key), err)
	}
	if r.output != nil {
		if err := r.output.AddRow(bound.Key, decision); err != nil {
			return types.Decision{}, fmt.Errorf("output at %s: %w", history.FormatKey(bound.Key), err)
		}
	}
	var orders []*types.Order
	if e.filler != nil {
		if orders, err = e.filler.Fill(bound, decision, e.position); err != nil {
			return types.Decision{}, fmt.Errorf("fill at %s: %w", history.FormatKey(bound.Key), err)
		}
	}
	r.seq++
	key := history.FormatKey(bound.Key)
	logger.LogSignal(r.info.ID, key, decision.String(), fmt.Sprint(bound.Values))
	if e.recorder != nil {
		rec := StepRecord{RunID: r.info.ID, Seq: r.seq, Observation: bound, Decision: decision, Orders: orders}
		if err := e.recorder.RecordStep(ctx, rec); err != nil {
			logger.Warnf("[executor] record step %d of run %s failed: %v", r.seq, r.info.ID, err)
		}
	}
	return decision, nil
}

func (r *run) finish(ctx context.Context, err error) {
	if r.finished {
		return
	}
	r.finished = true
	e := r.exec
	r.info.FinishedAt = time.Now()
	r.info.Steps = r.seq
	if err != nil {
		r.info.State = Failed
		r.info.Err = err.Error()
		logger.Errorf("[executor] %s run %s failed after %d steps: %v", e.name, r.info.ID, r.seq, err)
	} else {
		r.info.State = Done
		logger.Infof("[executor] %s run %s done, %d steps", e.name, r.info.ID, r.seq)
	}
	if e.position != nil {
		r.info.Position = e.position.ToMap()
	}
	e.state.Store(int32(r.info.State))
	if e.recorder != nil {
		// 运行结束的记录不受调用方取消影响。
		if recErr := e.recorder.RunFinished(context.WithoutCancel(ctx), r.info); recErr != nil {
			logger.Warnf("[executor] record run %s finish failed: %v", r.info.ID, recErr)
		}
	}
}

func (r *run) runBatch(ctx context.Context, input *history.History) (err error) {
	defer func() { r.finish(ctx, err) }()
	for obs := range input.Observations() {
		if err = ctx.Err(); err != nil {
			return err
		}
		if _, err = r.step(ctx, obs); err != nil {
			return err
		}
	}
	return nil
}
