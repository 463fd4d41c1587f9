package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"backsim/internal/market"
)

// RunModel 对应 backtest_runs 表。
type RunModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Product         string         `gorm:"column:product;index"`
	Strategy        string         `gorm:"column:strategy"`
	DriveInstrument string         `gorm:"column:drive_instrument;index"`
	Status          string         `gorm:"column:status;index"`
	FromDay         string         `gorm:"column:from_day"`
	ToDay           string         `gorm:"column:to_day"`
	Granularity     string         `gorm:"column:granularity"`
	MatchMode       string         `gorm:"column:match_mode"`
	InitialCash     float64        `gorm:"column:initial_cash"`
	FinalEquity     float64        `gorm:"column:final_equity"`
	Profit          float64        `gorm:"column:profit"`
	ReturnPct       float64        `gorm:"column:return_pct"`
	WinRate         float64        `gorm:"column:win_rate"`
	MaxDrawdownPct  float64        `gorm:"column:max_drawdown"`
	Orders          int            `gorm:"column:orders"`
	Trades          int            `gorm:"column:trades"`
	ConfigJSON      datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON       datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	Message         string         `gorm:"column:message"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// OrderModel 对应 backtest_orders 表，保存委托终态快照。
type OrderModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string  `gorm:"column:run_id;index:idx_bt_orders_run"`
	SysID          int64   `gorm:"column:sys_id"`
	LocalID        string  `gorm:"column:local_id"`
	InstrumentID   string  `gorm:"column:instrument_id"`
	Exchange       string  `gorm:"column:exchange"`
	Direction      string  `gorm:"column:direction"`
	Offset         string  `gorm:"column:offset"`
	Price          float64 `gorm:"column:price"`
	Volume         float64 `gorm:"column:volume"`
	FilledVolume   float64 `gorm:"column:filled_volume"`
	CanceledVolume float64 `gorm:"column:canceled_volume"`
	Status         string  `gorm:"column:status"`
	TradingDay     string  `gorm:"column:trading_day"`
	OrderTimeUnix  int64   `gorm:"column:order_time"`
	CancelTimeUnix int64   `gorm:"column:cancel_time"`
	ReasonCode     string  `gorm:"column:reason_code"`
	ReasonMessage  string  `gorm:"column:reason_message"`
}

func (OrderModel) TableName() string { return "backtest_orders" }

// TradeModel 对应 backtest_trades 表。
type TradeModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string  `gorm:"column:run_id;index:idx_bt_trades_run"`
	TradeID       int64   `gorm:"column:trade_id"`
	OrderSysID    int64   `gorm:"column:order_sys_id"`
	InstrumentID  string  `gorm:"column:instrument_id"`
	Direction     string  `gorm:"column:direction"`
	Offset        string  `gorm:"column:offset"`
	Price         float64 `gorm:"column:price"`
	Volume        float64 `gorm:"column:volume"`
	TradingDay    string  `gorm:"column:trading_day"`
	TradeTimeUnix int64   `gorm:"column:trade_time"`
}

func (TradeModel) TableName() string { return "backtest_trades" }

// SnapshotModel 对应 backtest_snapshots 表。
type SnapshotModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;index:idx_bt_snapshots_run"`
	TS         int64   `gorm:"column:ts"`
	TradingDay string  `gorm:"column:trading_day"`
	Equity     float64 `gorm:"column:equity"`
	Cash       float64 `gorm:"column:cash"`
	Margin     float64 `gorm:"column:margin"`
	Drawdown   float64 `gorm:"column:drawdown"`
	Note       string  `gorm:"column:note"`
}

func (SnapshotModel) TableName() string { return "backtest_snapshots" }

// ResultStore 管理回测结果库（runs/orders/trades/snapshots）。
type ResultStore struct {
	db *gorm.DB
}

// NewResultStore 打开（或创建）root 下的 runs.db。
func NewResultStore(root string) (*ResultStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewResultStoreFromDB(db)
}

// NewResultStoreFromDB 复用外部 gorm 连接，测试用内存库时走这里。
func NewResultStoreFromDB(db *gorm.DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	models := []interface{}{
		&RunModel{},
		&OrderModel{},
		&TradeModel{},
		&SnapshotModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	model.CreatedAtUnix = now
	model.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunSummary 更新状态与汇总指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":       status,
		"final_equity": stats.FinalEquity,
		"profit":       stats.Profit,
		"return_pct":   stats.ReturnPct,
		"win_rate":     stats.WinRate,
		"max_drawdown": stats.MaxDrawdownPct,
		"orders":       stats.Orders,
		"trades":       stats.Trades,
		"stats_json":   datatypes.JSON(statsJSON),
		"message":      message,
		"updated_at":   now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	return s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	return s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

// SaveOrders 批量写入委托终态。
func (s *ResultStore) SaveOrders(ctx context.Context, runID string, orders []*market.Order) error {
	if len(orders) == 0 {
		return nil
	}
	models := make([]OrderModel, 0, len(orders))
	for _, o := range orders {
		models = append(models, OrderModel{
			RunID:          runID,
			SysID:          o.SysID,
			LocalID:        o.LocalID,
			InstrumentID:   o.InstrumentID,
			Exchange:       o.Exchange,
			Direction:      string(o.Direction),
			Offset:         string(o.Offset),
			Price:          o.Price,
			Volume:         o.Volume,
			FilledVolume:   o.FilledVolume,
			CanceledVolume: o.CanceledVolume,
			Status:         string(o.Status),
			TradingDay:     o.TradingDay,
			OrderTimeUnix:  o.OrderTime.UnixMilli(),
			CancelTimeUnix: timeMillisOrZero(o.CancelTime),
			ReasonCode:     string(o.Reason.Code),
			ReasonMessage:  o.Reason.Message,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveTrades 批量写入成交。
func (s *ResultStore) SaveTrades(ctx context.Context, runID string, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]TradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, TradeModel{
			RunID:         runID,
			TradeID:       t.ID,
			OrderSysID:    t.OrderSysID,
			InstrumentID:  t.InstrumentID,
			Direction:     string(t.Direction),
			Offset:        string(t.Offset),
			Price:         t.Price,
			Volume:        t.Volume,
			TradingDay:    t.TradingDay,
			TradeTimeUnix: t.TradeTime.UnixMilli(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveSnapshots 批量写入资金曲线采样。
func (s *ResultStore) SaveSnapshots(ctx context.Context, runID string, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	models := make([]SnapshotModel, 0, len(snaps))
	for _, snap := range snaps {
		models = append(models, SnapshotModel{
			RunID:      runID,
			TS:         snap.TS,
			TradingDay: snap.TradingDay,
			Equity:     snap.Equity,
			Cash:       snap.Cash,
			Margin:     snap.Margin,
			Drawdown:   snap.Drawdown,
			Note:       snap.Note,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// ListRuns 按创建时间倒序列出 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// GetRun 按 ID 查询单个 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var model RunModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return Run{}, err
	}
	return modelToRun(model)
}

// ListOrders 返回某 run 的委托（按 sys_id 升序）。
func (s *ResultStore) ListOrders(ctx context.Context, runID string, limit int) ([]market.Order, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var models []OrderModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("sys_id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]market.Order, 0, len(models))
	for _, m := range models {
		out = append(out, market.Order{
			SysID:          m.SysID,
			LocalID:        m.LocalID,
			InstrumentID:   m.InstrumentID,
			Exchange:       m.Exchange,
			Direction:      market.Direction(m.Direction),
			Offset:         market.Offset(m.Offset),
			Price:          m.Price,
			Volume:         m.Volume,
			FilledVolume:   m.FilledVolume,
			CanceledVolume: m.CanceledVolume,
			Status:         market.OrderStatus(m.Status),
			TradingDay:     m.TradingDay,
			OrderTime:      time.UnixMilli(m.OrderTimeUnix),
			CancelTime:     timeFromMillis(m.CancelTimeUnix),
			Reason: market.Reason{
				Code:    market.ReasonCode(m.ReasonCode),
				Message: m.ReasonMessage,
			},
		})
	}
	return out, nil
}

// ListTrades 返回某 run 的成交（按 trade_id 升序）。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]market.Trade, error) {
	if limit <= 0 || limit > 2000 {
		limit = 1000
	}
	var models []TradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("trade_id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, market.Trade{
			ID:           m.TradeID,
			OrderSysID:   m.OrderSysID,
			InstrumentID: m.InstrumentID,
			Direction:    market.Direction(m.Direction),
			Offset:       market.Offset(m.Offset),
			Price:        m.Price,
			Volume:       m.Volume,
			TradingDay:   m.TradingDay,
			TradeTime:    time.UnixMilli(m.TradeTimeUnix),
		})
	}
	return out, nil
}

// ListSnapshots 返回某 run 的资金曲线（按时间升序）。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 5000 {
		limit = 2000
	}
	var models []SnapshotModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("ts ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, Snapshot{
			ID:         m.ID,
			RunID:      m.RunID,
			TS:         m.TS,
			TradingDay: m.TradingDay,
			Equity:     m.Equity,
			Cash:       m.Cash,
			Margin:     m.Margin,
			Drawdown:   m.Drawdown,
			Note:       m.Note,
		})
	}
	return out, nil
}

func runToModel(run Run) (RunModel, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return RunModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return RunModel{}, err
	}
	model := RunModel{
		ID:              run.ID,
		Product:         run.Product,
		Strategy:        run.Strategy,
		DriveInstrument: run.DriveInstrument,
		Status:          run.Status,
		FromDay:         run.FromDay,
		ToDay:           run.ToDay,
		Granularity:     run.Granularity,
		MatchMode:       run.MatchMode,
		InitialCash:     run.InitialCash,
		FinalEquity:     run.FinalEquity,
		Profit:          run.Profit,
		ReturnPct:       run.ReturnPct,
		WinRate:         run.WinRate,
		MaxDrawdownPct:  run.MaxDrawdownPct,
		Orders:          run.Orders,
		Trades:          run.Trades,
		ConfigJSON:      datatypes.JSON(cfgJSON),
		StatsJSON:       datatypes.JSON(statsJSON),
		Message:         run.Message,
	}
	if !run.CompletedAt.IsZero() {
		ms := run.CompletedAt.UnixMilli()
		model.CompletedAtUnix = &ms
	}
	return model, nil
}

func modelToRun(m RunModel) (Run, error) {
	run := Run{
		ID:              m.ID,
		Product:         m.Product,
		Strategy:        m.Strategy,
		DriveInstrument: m.DriveInstrument,
		Status:          m.Status,
		FromDay:         m.FromDay,
		ToDay:           m.ToDay,
		Granularity:     m.Granularity,
		MatchMode:       m.MatchMode,
		InitialCash:     m.InitialCash,
		FinalEquity:     m.FinalEquity,
		Profit:          m.Profit,
		ReturnPct:       m.ReturnPct,
		WinRate:         m.WinRate,
		MaxDrawdownPct:  m.MaxDrawdownPct,
		Orders:          m.Orders,
		Trades:          m.Trades,
		Message:         m.Message,
		CreatedAt:       timeFromMillis(m.CreatedAtUnix),
		UpdatedAt:       timeFromMillis(m.UpdatedAtUnix),
	}
	if m.CompletedAtUnix != nil {
		run.CompletedAt = timeFromMillis(*m.CompletedAtUnix)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeMillisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
