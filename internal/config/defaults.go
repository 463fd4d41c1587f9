package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppLogPath        = "/data/logs/backsim.log"
	defaultDataRoot          = "/data/histdata"
	defaultResultRoot        = "/data/backtest"
	defaultInstrumentsPath   = "configs/instruments.yaml"
	defaultFetchSource       = "binance"
	defaultFetchREST         = "https://fapi.binance.com"
	defaultFetchTimeout      = 15
	defaultFetchRateLimit    = 480
	defaultFetchMaxBatch     = 1000
	defaultFetchConcurrent   = 2
	defaultBacktestProduct   = "default"
	defaultBacktestStrategy  = "sma_cross"
	defaultBacktestExchange  = "BINANCE"
	defaultBacktestGran      = "minute"
	defaultBacktestInterval  = 1
	defaultBacktestMatchMode = "last_price"
	defaultBacktestCash      = 1_000_000
	defaultBacktestParallel  = 1
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Instruments.applyDefaults(keys)
	c.Fetch.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.result_root", &d.ResultRoot, defaultResultRoot),
	)
}

func (i *InstrumentsConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("instruments.path", &i.Path, defaultInstrumentsPath),
	)
}

func (f *FetchConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("fetch.source", &f.Source, defaultFetchSource),
		stringFieldDefault("fetch.rest_base_url", &f.RESTBaseURL, defaultFetchREST),
		fieldDefault{
			key:   "fetch.timeout_seconds",
			need:  func() bool { return f.TimeoutSeconds <= 0 },
			apply: func() { f.TimeoutSeconds = defaultFetchTimeout },
		},
		fieldDefault{
			key:   "fetch.rate_limit_per_min",
			need:  func() bool { return f.RateLimitPerMin <= 0 },
			apply: func() { f.RateLimitPerMin = defaultFetchRateLimit },
		},
		fieldDefault{
			key:   "fetch.max_batch",
			need:  func() bool { return f.MaxBatch <= 0 },
			apply: func() { f.MaxBatch = defaultFetchMaxBatch },
		},
		fieldDefault{
			key:   "fetch.max_concurrent",
			need:  func() bool { return f.MaxConcurrent <= 0 },
			apply: func() { f.MaxConcurrent = defaultFetchConcurrent },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.product", &b.Product, defaultBacktestProduct),
		stringFieldDefault("backtest.strategy", &b.Strategy, defaultBacktestStrategy),
		stringFieldDefault("backtest.exchange", &b.Exchange, defaultBacktestExchange),
		stringFieldDefault("backtest.granularity", &b.Granularity, defaultBacktestGran),
		stringFieldDefault("backtest.match_mode", &b.MatchMode, defaultBacktestMatchMode),
		fieldDefault{
			key:   "backtest.interval",
			need:  func() bool { return b.Interval <= 0 },
			apply: func() { b.Interval = defaultBacktestInterval },
		},
		fieldDefault{
			key:   "backtest.initial_cash",
			need:  func() bool { return b.InitialCash <= 0 },
			apply: func() { b.InitialCash = defaultBacktestCash },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultBacktestParallel },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
