package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"backsim/internal/backtest"
	"backsim/internal/config"
	"backsim/internal/histdata"
	"backsim/internal/instrument"
	"backsim/internal/logger"
	backtesthttp "backsim/internal/transport/http/backtest"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg *config.Config

	registry *instrument.Registry
	store    *histdata.Store
	fetcher  *histdata.Service
	results  *backtest.ResultStore
	runs     *backtest.Service
	server   *backtesthttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务并阻塞，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.fetcher.SetContext(ctx)
	a.runs.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	logger.Infof("backsim 启动完成，HTTP 监听 %s", a.cfg.App.HTTPAddr)
	err := group.Wait()
	a.Close()
	return err
}

// RunService 暴露回测任务服务，CLI 与测试复用。
func (a *App) RunService() *backtest.Service {
	if a == nil {
		return nil
	}
	return a.runs
}

// Close 释放持久化资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
