package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backsim/internal/backtest"
	"backsim/internal/calendar"
	"backsim/internal/config"
	"backsim/internal/histdata"
	"backsim/internal/instrument"
	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/notifier"
	"backsim/internal/strategy"
	backtesthttp "backsim/internal/transport/http/backtest"
)

// AppBuilder 将配置展开为可运行的 App，各阶段可被测试替换。
type AppBuilder struct {
	cfg *config.Config

	calendarFn func(*config.Config) *calendar.Weekday
	registryFn func(string) (*instrument.Registry, error)
	remoteFn   func(config.FetchConfig) (histdata.RemoteSource, error)
	strategyFn func(*config.Config) strategy.Factory
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		calendarFn: buildCalendar,
		registryFn: instrument.NewRegistry,
		remoteFn:   buildRemoteSource,
		strategyFn: buildStrategyFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithRemoteSource 替换远端行情源（测试注入假源）。
func WithRemoteSource(src histdata.RemoteSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.remoteFn = func(config.FetchConfig) (histdata.RemoteSource, error) { return src, nil }
	}
}

// WithStrategyFactory 替换策略工厂。
func WithStrategyFactory(factory strategy.Factory) AppBuilderOption {
	return func(b *AppBuilder) {
		b.strategyFn = func(*config.Config) strategy.Factory { return factory }
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	cal := b.calendarFn(cfg)

	registry, err := b.registryFn(cfg.Instruments.Path)
	if err != nil {
		return nil, fmt.Errorf("加载合约注册表失败: %w", err)
	}
	instruments := registry.Snapshot().Instruments
	logger.Infof("合约注册表加载完成，共 %d 个合约", len(instruments))

	store, err := histdata.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("打开行情库失败: %w", err)
	}
	source, err := histdata.NewStoreSource(store)
	if err != nil {
		return nil, err
	}

	remote, err := b.remoteFn(cfg.Fetch)
	if err != nil {
		return nil, fmt.Errorf("构造远端行情源失败: %w", err)
	}
	fetcher, err := histdata.NewService(histdata.ServiceConfig{
		Store:           store,
		Sources:         map[string]histdata.RemoteSource{remote.Name(): remote},
		DefaultSource:   remote.Name(),
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxBatch:        cfg.Fetch.MaxBatch,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("构造回填服务失败: %w", err)
	}

	results, err := backtest.NewResultStore(cfg.Data.ResultRoot)
	if err != nil {
		return nil, fmt.Errorf("打开结果库失败: %w", err)
	}

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Source:         source,
		Calendar:       cal,
		Instruments:    instrumentMap(instruments),
		Factory:        b.strategyFn(cfg),
		CancelAtDayEnd: cfg.Backtest.CancelAtDayEnd,
		Debug:          cfg.App.Debug,
	})
	if err != nil {
		return nil, err
	}
	registry.OnChange(func(snap instrument.Snapshot) {
		runner.SetInstruments(instrumentMap(snap.Instruments))
		logger.Infof("合约注册表热更新生效（版本 %d，%d 个合约）", snap.Version, len(snap.Instruments))
	})
	runs, err := backtest.NewService(backtest.ServiceConfig{
		Runner:        runner,
		Results:       results,
		Notifier:      buildNotifier(cfg.Notify),
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		DefaultParams: cfg.Backtest.Params,
	})
	if err != nil {
		return nil, err
	}

	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:     cfg.App.HTTPAddr,
		Runs:     runs,
		Fetcher:  fetcher,
		Store:    store,
		Calendar: cal,
	})
	if err != nil {
		return nil, fmt.Errorf("构造 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		registry: registry,
		store:    store,
		fetcher:  fetcher,
		results:  results,
		runs:     runs,
		server:   server,
	}, nil
}

func buildCalendar(cfg *config.Config) *calendar.Weekday {
	return calendar.NewWeekday(cfg.Calendar.Holidays)
}

func buildRemoteSource(cfg config.FetchConfig) (histdata.RemoteSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "binance":
		return histdata.NewBinanceSource(histdata.BinanceConfig{
			RESTBaseURL: cfg.RESTBaseURL,
			HTTPTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}), nil
	case "raw":
		return histdata.NewRawKlineSource(cfg.RESTBaseURL), nil
	default:
		return nil, fmt.Errorf("未知的行情源: %q", cfg.Source)
	}
}

func buildNotifier(cfg config.NotifyConfig) backtest.Notifier {
	if strings.TrimSpace(cfg.TelegramBotToken) == "" || strings.TrimSpace(cfg.TelegramChatID) == "" {
		return nil
	}
	return notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
}

func buildStrategyFactory(cfg *config.Config) strategy.Factory {
	registry := strategy.DefaultRegistry(cfg.Backtest.Strategy)
	return registry
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func instrumentMap(instruments map[string]market.Instrument) map[string]market.Instrument {
	out := make(map[string]market.Instrument, len(instruments))
	for id, inst := range instruments {
		out[id] = inst
	}
	return out
}
