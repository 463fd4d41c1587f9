package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/notifier"
	"backsim/internal/pkg/maputil"
)

// Notifier 用于回测完成后的推送，允许为 nil。
type Notifier interface {
	SendText(text string) error
}

// ServiceConfig 配置回测任务服务。
type ServiceConfig struct {
	Runner        *Runner
	Results       *ResultStore
	Notifier      Notifier
	MaxConcurrent int
	// DefaultParams 为策略参数兜底，单次请求的同名参数覆盖它。
	DefaultParams map[string]any
}

// Service 管理回测任务的提交、后台执行与结果持久化。
type Service struct {
	runner        *Runner
	results       *ResultStore
	notifier      Notifier
	defaultParams map[string]any

	sem     chan struct{}
	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		runner:        cfg.Runner,
		results:       cfg.Results,
		notifier:      cfg.Notifier,
		defaultParams: cfg.DefaultParams,
		sem:           make(chan struct{}, maxConcurrent),
		baseCtx:       context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，回放过程在后台进行。
func (s *Service) StartRun(req RunRequest) (Run, error) {
	cfg, err := s.configFromRequest(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:              uuid.NewString(),
		Product:         cfg.Product,
		Strategy:        cfg.Strategy,
		DriveInstrument: cfg.DriveInstrument,
		Status:          RunStatusPending,
		FromDay:         cfg.FromDay,
		ToDay:           cfg.ToDay,
		Granularity:     cfg.Granularity,
		MatchMode:       cfg.MatchMode,
		InitialCash:     cfg.InitialCash,
		Config:          cfg,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, fmt.Errorf("写入 run 记录失败: %w", err)
	}
	go s.execute(run)
	return run, nil
}

// RunSync 同步执行一次回测并持久化，CLI 场景使用。
func (s *Service) RunSync(ctx context.Context, req RunRequest) (Run, error) {
	cfg, err := s.configFromRequest(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:              uuid.NewString(),
		Product:         cfg.Product,
		Strategy:        cfg.Strategy,
		DriveInstrument: cfg.DriveInstrument,
		Status:          RunStatusRunning,
		FromDay:         cfg.FromDay,
		ToDay:           cfg.ToDay,
		Granularity:     cfg.Granularity,
		MatchMode:       cfg.MatchMode,
		InitialCash:     cfg.InitialCash,
		Config:          cfg,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.results.InsertRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("写入 run 记录失败: %w", err)
	}
	if err := s.runAndPersist(ctx, &run); err != nil {
		return run, err
	}
	return s.results.GetRun(ctx, run.ID)
}

func (s *Service) execute(run Run) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	if err := s.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, "回放进行中"); err != nil {
		logger.Warnf("更新 run 状态失败 run=%s: %v", run.ID, err)
	}
	if err := s.runAndPersist(ctx, &run); err != nil {
		logger.Errorf("回测 run=%s 失败: %v", run.ID, err)
	}
}

func (s *Service) runAndPersist(ctx context.Context, run *Run) error {
	started := time.Now()
	result, err := s.runner.Execute(ctx, run.ID, run.Config)
	if err != nil {
		msg := fmt.Sprintf("回放失败: %v", err)
		if uerr := s.results.UpdateRunSummary(ctx, run.ID, RunStatusFailed, RunStats{InitialCash: run.InitialCash}, msg); uerr != nil {
			logger.Warnf("标记 run 失败状态出错 run=%s: %v", run.ID, uerr)
		}
		s.notify(notifier.StructuredMessage{
			Icon:  "❌",
			Title: "回测失败",
			Sections: []notifier.MessageSection{{
				Lines: []string{
					fmt.Sprintf("run：%s", run.ID),
					fmt.Sprintf("区间：%s ~ %s", run.FromDay, run.ToDay),
					fmt.Sprintf("原因：%v", err),
				},
			}},
			Timestamp: time.Now(),
		})
		return err
	}

	if err := s.results.SaveOrders(ctx, run.ID, result.Orders); err != nil {
		logger.Warnf("保存委托失败 run=%s: %v", run.ID, err)
	}
	if err := s.results.SaveTrades(ctx, run.ID, result.Trades); err != nil {
		logger.Warnf("保存成交失败 run=%s: %v", run.ID, err)
	}
	if err := s.results.SaveSnapshots(ctx, run.ID, result.Snapshots); err != nil {
		logger.Warnf("保存资金曲线失败 run=%s: %v", run.ID, err)
	}
	msg := fmt.Sprintf("完成，耗时 %s", time.Since(started).Round(time.Millisecond))
	if err := s.results.UpdateRunSummary(ctx, run.ID, RunStatusDone, result.Stats, msg); err != nil {
		return fmt.Errorf("更新 run 汇总失败: %w", err)
	}
	logger.Infof("回测 run=%s 完成：%s~%s 收益 %.2f（%.2f%%），委托 %d 成交 %d",
		run.ID, run.FromDay, run.ToDay, result.Stats.Profit, result.Stats.ReturnPct,
		result.Stats.Orders, result.Stats.Trades)
	s.notify(notifier.StructuredMessage{
		Icon:  "✅",
		Title: "回测完成",
		Sections: []notifier.MessageSection{
			{
				Title: "任务",
				Lines: []string{
					fmt.Sprintf("run：%s", run.ID),
					fmt.Sprintf("策略：%s / %s", run.Strategy, run.DriveInstrument),
					fmt.Sprintf("区间：%s ~ %s", run.FromDay, run.ToDay),
				},
			},
			{
				Title: "结果",
				Lines: []string{
					fmt.Sprintf("收益：%.2f（%.2f%%）", result.Stats.Profit, result.Stats.ReturnPct),
					fmt.Sprintf("最大回撤：%.2f%%", result.Stats.MaxDrawdownPct),
					fmt.Sprintf("委托 %d / 成交 %d / 胜率 %.1f%%", result.Stats.Orders, result.Stats.Trades, result.Stats.WinRate),
				},
			},
		},
		Timestamp: time.Now(),
	})
	return nil
}

func (s *Service) notify(msg notifier.StructuredMessage) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("推送通知失败: %v", err)
	}
}

// GetRun 查询单个 run。
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	return s.results.GetRun(ctx, id)
}

// ListRuns 列出最近的 run。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.results.ListRuns(ctx, limit)
}

// ListOrders 列出某 run 的委托。
func (s *Service) ListOrders(ctx context.Context, runID string, limit int) ([]market.Order, error) {
	return s.results.ListOrders(ctx, runID, limit)
}

// ListTrades 列出某 run 的成交。
func (s *Service) ListTrades(ctx context.Context, runID string, limit int) ([]market.Trade, error) {
	return s.results.ListTrades(ctx, runID, limit)
}

// ListSnapshots 列出某 run 的资金曲线。
func (s *Service) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	return s.results.ListSnapshots(ctx, runID, limit)
}

func (s *Service) configFromRequest(req RunRequest) (RunConfig, error) {
	drive := strings.TrimSpace(req.DriveInstrument)
	if drive == "" {
		return RunConfig{}, errors.New("drive_instrument 不能为空")
	}
	if _, err := market.ParseDay(req.FromDay); err != nil {
		return RunConfig{}, fmt.Errorf("from_day 非法: %w", err)
	}
	if _, err := market.ParseDay(req.ToDay); err != nil {
		return RunConfig{}, fmt.Errorf("to_day 非法: %w", err)
	}
	if req.FromDay > req.ToDay {
		return RunConfig{}, fmt.Errorf("起止日期颠倒：%s > %s", req.FromDay, req.ToDay)
	}
	return RunConfig{
		Product:         req.Product,
		Strategy:        req.Strategy,
		Exchange:        req.Exchange,
		DriveInstrument: drive,
		Subscribed:      req.Subscribed,
		FromDay:         req.FromDay,
		ToDay:           req.ToDay,
		Granularity:     req.Granularity,
		Interval:        req.Interval,
		MatchMode:       req.MatchMode,
		InitialCash:     req.InitialCash,
		Params:          maputil.Merge(s.defaultParams, req.Params),
	}, nil
}
