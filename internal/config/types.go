package config

import "strings"

// Config 是 backsim 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Data        DataConfig        `toml:"data"`
	Calendar    CalendarConfig    `toml:"calendar"`
	Instruments InstrumentsConfig `toml:"instruments"`
	Fetch       FetchConfig       `toml:"fetch"`
	Backtest    BacktestConfig    `toml:"backtest"`
	Notify      NotifyConfig      `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	// Debug 打开后观察者回调失败会中止回放。
	Debug bool `toml:"debug"`
}

// DataConfig 指定行情库与结果库的根目录。
type DataConfig struct {
	Root       string `toml:"root"`
	ResultRoot string `toml:"result_root"`
}

// CalendarConfig 配置交易日历，节假日为 yyyyMMdd 列表。
type CalendarConfig struct {
	Holidays []string `toml:"holidays"`
}

// InstrumentsConfig 指定合约静态信息文件（支持热更新）。
type InstrumentsConfig struct {
	Path string `toml:"path"`
}

// FetchConfig 配置远端行情回填。
type FetchConfig struct {
	Source          string `toml:"source"` // binance | raw
	RESTBaseURL     string `toml:"rest_base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// BacktestConfig 指定回测的默认参数，可被单次请求覆盖。
type BacktestConfig struct {
	Product         string         `toml:"product"`
	Strategy        string         `toml:"strategy"`
	Exchange        string         `toml:"exchange"`
	DriveInstrument string         `toml:"drive_instrument"`
	Subscribed      []string       `toml:"subscribed"`
	FromDay         string         `toml:"from_day"`
	ToDay           string         `toml:"to_day"`
	Granularity     string         `toml:"granularity"`
	Interval        int            `toml:"interval"`
	MatchMode       string         `toml:"match_mode"`
	InitialCash     float64        `toml:"initial_cash"`
	CancelAtDayEnd  bool           `toml:"cancel_at_day_end"`
	MaxConcurrent   int            `toml:"max_concurrent"`
	Params          map[string]any `toml:"params"`
}

// NotifyConfig 配置回测结束后的 Telegram 推送，两项都填上才启用。
type NotifyConfig struct {
	TelegramBotToken string `toml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
