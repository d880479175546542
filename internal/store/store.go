// Package store 用 gorm + SQLite 记录执行器的运行、信号与订单。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantcore/internal/executor"
	"quantcore/internal/store/model"
	"quantcore/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ResultStore 实现 executor.Recorder。
type ResultStore struct {
	db *gorm.DB
}

var _ executor.Recorder = (*ResultStore)(nil)

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewResultStoreFromDB(db)
}

func NewResultStoreFromDB(db *gorm.DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	models := []interface{}{
		&model.RunModel{},
		&model.SignalModel{},
		&model.OrderModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runStatus(state executor.State) model.RunStatus {
	switch state {
	case executor.Done:
		return model.RunStatusDone
	case executor.Failed:
		return model.RunStatusFailed
	default:
		return model.RunStatusRunning
	}
}

func jsonOf(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (s *ResultStore) RunStarted(ctx context.Context, info executor.RunInfo) error {
	now := time.Now()
	started := info.StartedAt
	if started.IsZero() {
		started = now
	}
	rec := model.RunModel{
		ID:            info.ID,
		Executor:      info.Executor,
		Strategy:      info.Strategy,
		Mode:          info.Mode.String(),
		Status:        model.RunStatusRunning,
		StartedAtUnix: started.UnixMilli(),
		UpdatedAtUnix: now.UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// RecordStep 在一个事务中写入信号与订单。
func (s *ResultStore) RecordStep(ctx context.Context, rec executor.StepRecord) error {
	obs := rec.Observation
	schema := obs.Schema()
	values := make(map[string]any, len(schema.Fields))
	for i, f := range schema.Fields {
		if i < len(obs.Values) {
			values[f] = schema.Serialize(obs.Values[i])
		}
	}
	valuesJSON, err := jsonOf(values)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	decisionJSON, err := jsonOf(rec.Decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	now := time.Now().UnixMilli()
	signal := model.SignalModel{
		RunID:        rec.RunID,
		Seq:          rec.Seq,
		Key:          obs.Row().Key.String(),
		ValuesJSON:   valuesJSON,
		DecisionJSON: decisionJSON,
		Side:         decisionSide(rec.Decision),
		CreatedAt:    now,
	}
	if sec, ok := obs.Security(); ok {
		signal.Security = sec.Symbol
	}
	if ts, ok := obs.Time(); ok {
		signal.ObservedAt = ts.UnixMilli()
	}
	orders := make([]model.OrderModel, 0, len(rec.Orders))
	for _, o := range rec.Orders {
		orders = append(orders, orderModel(rec.RunID, rec.Seq, o, now))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&signal).Error; err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}
		return tx.Create(&orders).Error
	})
}

func decisionSide(d types.Decision) string {
	if sig, ok := d.Signal(); ok {
		return sig.Side.String()
	}
	return "GROUP"
}

func orderModel(runID string, seq int, o *types.Order, now int64) model.OrderModel {
	m := model.OrderModel{
		ID:        o.ID,
		RunID:     runID,
		Seq:       seq,
		Security:  o.Data.Security.Symbol,
		Side:      o.Data.Side.String(),
		Quantity:  o.Data.Quantity.String(),
		Filled:    o.Filled().String(),
		Fills:     len(o.Transactions),
		PlacedAt:  o.Data.CreatedAt.UnixMilli(),
		CreatedAt: now,
	}
	if avg := o.AvgPrice(); avg.Valid {
		m.AvgPrice = avg.Decimal.String()
		m.Notional = avg.Decimal.Mul(o.Filled()).InexactFloat64()
	}
	return m
}

func (s *ResultStore) RunFinished(ctx context.Context, info executor.RunInfo) error {
	positionJSON, err := jsonOf(info.Position)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	finished := info.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	finishedMs := finished.UnixMilli()
	res := s.db.WithContext(ctx).Model(&model.RunModel{}).Where("id = ?", info.ID).Updates(map[string]interface{}{
		"status":        runStatus(info.State),
		"steps":         info.Steps,
		"error":         info.Err,
		"position_json": positionJSON,
		"finished_at":   finishedMs,
		"updated_at":    time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s not found", info.ID)
	}
	return nil
}

func hydrateRun(m *model.RunModel) {
	m.StartedAt = time.UnixMilli(m.StartedAtUnix).UTC()
	if m.FinishedAtUnix != nil {
		m.FinishedAt = time.UnixMilli(*m.FinishedAtUnix).UTC()
	}
}

// GetRun 返回 run；不存在时返回 (nil, nil)。
func (s *ResultStore) GetRun(ctx context.Context, id string) (*model.RunModel, error) {
	var run model.RunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hydrateRun(&run)
	return &run, nil
}

// ListRuns 按开始时间倒序返回最近的 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]model.RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []model.RunModel
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	for i := range runs {
		hydrateRun(&runs[i])
	}
	return runs, nil
}

func (s *ResultStore) ListSignals(ctx context.Context, runID string) ([]model.SignalModel, error) {
	var out []model.SignalModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&out).Error
	return out, err
}

func (s *ResultStore) ListOrders(ctx context.Context, runID string) ([]model.OrderModel, error) {
	var out []model.OrderModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&out).Error
	return out, err
}

// Decisions 还原某次运行的全部决定（按步序）。
func (s *ResultStore) Decisions(ctx context.Context, runID string) ([]types.Decision, error) {
	signals, err := s.ListSignals(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Decision, 0, len(signals))
	for _, sig := range signals {
		var d types.Decision
		if err := json.Unmarshal(sig.DecisionJSON, &d); err != nil {
			return nil, fmt.Errorf("decode decision %s#%d: %w", runID, sig.Seq, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Position 还原运行结束时的持仓。
func (s *ResultStore) Position(ctx context.Context, runID string) (*types.Inventory, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	raw := map[string]any{}
	if len(run.PositionJSON) > 0 {
		if err := json.Unmarshal(run.PositionJSON, &raw); err != nil {
			return nil, err
		}
	}
	return types.InventoryFromMap(raw)
}
