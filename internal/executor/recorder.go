package executor

import (
	"context"
	"time"

	"quantcore/internal/history"
	"quantcore/internal/types"
)

// RunInfo 描述一次 Run 的元数据。
type RunInfo struct {
	ID         string
	Executor   string
	Strategy   string
	Mode       Mode
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      int
	Err        string
	Position   map[string]any
}

// StepRecord 是单步的完整记录。
type StepRecord struct {
	RunID       string
	Seq         int
	Observation history.Observation
	Decision    types.Decision
	Orders      []*types.Order
}

// Recorder 持久化运行过程。记录失败只会被告警，不影响运行结果。
type Recorder interface {
	RunStarted(ctx context.Context, info RunInfo) error
	RecordStep(ctx context.Context, rec StepRecord) error
	RunFinished(ctx context.Context, info RunInfo) error
}
