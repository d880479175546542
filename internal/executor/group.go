package executor

import (
	"context"
	"fmt"

	"quantcore/internal/types"

	"golang.org/x/sync/errgroup"
)

// Job 是 Group 中的一个独立运行。
type Job struct {
	Executor *Executor
	Input    Input
	Options  RunOptions
}

// JobResult 保存单个 Job 的结果；Outcome 在失败时仍可能包含部分输出。
type JobResult struct {
	Name    string
	Outcome *Outcome
	Signals int
	Err     error
}

// GroupResult 汇总所有 Job 的结果与合并后的持仓。
type GroupResult struct {
	Jobs     []JobResult
	Position *types.Inventory
}

// RunGroup 并发运行相互独立的执行器，limit<=0 时不限制并发。
// 每个执行器内部仍是串行的；流式输入会被完整消费。返回第一个错误。
func RunGroup(ctx context.Context, jobs []Job, limit int) (GroupResult, error) {
	res := GroupResult{Jobs: make([]JobResult, len(jobs)), Position: types.NewInventory()}
	seen := make(map[*Executor]bool, len(jobs))
	for i, job := range jobs {
		var err error
		switch {
		case job.Executor == nil:
			err = fmt.Errorf("job %d: %w", i, ErrNoStrategy)
		case seen[job.Executor]:
			err = fmt.Errorf("job %d (%s): %w", i, job.Executor.Name(), ErrBusy)
		}
		if err != nil {
			for _, j := range jobs {
				j.Input.release()
			}
			return res, err
		}
		seen[job.Executor] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			jr := runJob(gctx, job)
			res.Jobs[i] = jr
			return jr.Err
		})
	}
	err := g.Wait()
	for _, job := range jobs {
		res.Position.Add(job.Executor.Position())
	}
	return res, err
}

func runJob(ctx context.Context, job Job) JobResult {
	jr := JobResult{Name: job.Executor.Name()}
	out, err := job.Executor.Run(ctx, job.Input, job.Options)
	jr.Outcome = out
	if err != nil {
		if out == nil {
			job.Input.release()
		}
		jr.Err = fmt.Errorf("%s: %w", jr.Name, err)
		if out != nil && out.Output != nil {
			jr.Signals = out.Output.Len()
		}
		return jr
	}
	switch out.Mode {
	case ModeBatch:
		jr.Signals = out.Output.Len()
	case ModeStream:
		for _, err := range out.Signals {
			if err != nil {
				jr.Err = fmt.Errorf("%s: %w", jr.Name, err)
				return jr
			}
			jr.Signals++
		}
	case ModeAsync:
		defer out.Async.Close()
		decisions, err := out.Async.Collect(ctx)
		jr.Signals = len(decisions)
		if err != nil {
			jr.Err = fmt.Errorf("%s: %w", jr.Name, err)
		}
	}
	return jr
}
