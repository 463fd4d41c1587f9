package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"backsim/internal/app"
	"backsim/internal/backtest"
	bscfg "backsim/internal/config"
	"backsim/internal/logger"
	"backsim/internal/pkg/jsonutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("BACKSIM_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := bscfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，数据目录=%s）", cfg.App.Env, cfg.Data.Root)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "run" {
		if err := runOnce(ctx, cfg, a.RunService(), os.Args[2:]); err != nil {
			log.Fatalf("回测失败: %v", err)
		}
		a.Close()
		return
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

// runOnce 以命令行方式同步执行一次回测：backsim run [起始交易日] [结束交易日]，
// 交易日缺省时取配置里的回测区间。
func runOnce(ctx context.Context, cfg *bscfg.Config, svc *backtest.Service, args []string) error {
	req := backtest.RunRequest{
		Product:         cfg.Backtest.Product,
		Strategy:        cfg.Backtest.Strategy,
		Exchange:        cfg.Backtest.Exchange,
		DriveInstrument: cfg.Backtest.DriveInstrument,
		Subscribed:      cfg.Backtest.Subscribed,
		FromDay:         cfg.Backtest.FromDay,
		ToDay:           cfg.Backtest.ToDay,
		Granularity:     cfg.Backtest.Granularity,
		Interval:        cfg.Backtest.Interval,
		MatchMode:       cfg.Backtest.MatchMode,
		InitialCash:     cfg.Backtest.InitialCash,
		Params:          cfg.Backtest.Params,
	}
	if len(args) > 0 {
		req.FromDay = args[0]
	}
	if len(args) > 1 {
		req.ToDay = args[1]
	}

	run, err := svc.RunSync(ctx, req)
	if err != nil {
		return err
	}
	logger.Infof("回测完成 run=%s 收益=%.2f（%.2f%%）最大回撤=%.2f%% 委托=%d 成交=%d",
		run.ID, run.Profit, run.ReturnPct, run.MaxDrawdownPct, run.Orders, run.Trades)
	if raw, err := run.MarshalStats(); err == nil {
		fmt.Println(jsonutil.Pretty(string(raw)))
	}
	return nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
