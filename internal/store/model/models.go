package model

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// RunModel 对应一次执行器运行。
type RunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Executor       string         `gorm:"column:executor;index"`
	Strategy       string         `gorm:"column:strategy"`
	Mode           string         `gorm:"column:mode"`
	Status         RunStatus      `gorm:"column:status;index"`
	Steps          int            `gorm:"column:steps"`
	Error          string         `gorm:"column:error"`
	PositionJSON   datatypes.JSON `gorm:"column:position_json;type:TEXT"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	FinishedAtUnix *int64         `gorm:"column:finished_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`

	StartedAt  time.Time `gorm:"-"`
	FinishedAt time.Time `gorm:"-"`
}

func (RunModel) TableName() string { return "runs" }

// SignalModel 是单步记录：观测 key、观测值与策略决定。
type SignalModel struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string         `gorm:"column:run_id;uniqueIndex:idx_signal_step,priority:1"`
	Seq          int            `gorm:"column:seq;uniqueIndex:idx_signal_step,priority:2"`
	Security     string         `gorm:"column:security;index"`
	ObservedAt   int64          `gorm:"column:observed_at"`
	Key          string         `gorm:"column:obs_key"`
	ValuesJSON   datatypes.JSON `gorm:"column:values_json;type:TEXT"`
	DecisionJSON datatypes.JSON `gorm:"column:decision_json;type:TEXT"`
	Side         string         `gorm:"column:side"`
	CreatedAt    int64          `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "signals" }

// OrderModel 是模拟成交产生的订单。
type OrderModel struct {
	ID        string  `gorm:"column:id;primaryKey"`
	RunID     string  `gorm:"column:run_id;index"`
	Seq       int     `gorm:"column:seq"`
	Security  string  `gorm:"column:security"`
	Side      string  `gorm:"column:side"`
	Quantity  string  `gorm:"column:quantity"`
	Filled    string  `gorm:"column:filled"`
	AvgPrice  string  `gorm:"column:avg_price"`
	Fills     int     `gorm:"column:fills"`
	Notional  float64 `gorm:"column:notional"`
	PlacedAt  int64   `gorm:"column:placed_at"`
	CreatedAt int64   `gorm:"column:created_at"`
}

func (OrderModel) TableName() string { return "orders" }
