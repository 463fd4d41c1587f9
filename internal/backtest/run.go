package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Product         string         `json:"product"`
	Strategy        string         `json:"strategy"`
	Exchange        string         `json:"exchange"`
	DriveInstrument string         `json:"drive_instrument"`
	Subscribed      []string       `json:"subscribed"`
	FromDay         string         `json:"from_day"`
	ToDay           string         `json:"to_day"`
	Granularity     string         `json:"granularity"`
	Interval        int            `json:"interval"`
	MatchMode       string         `json:"match_mode"`
	InitialCash     float64        `json:"initial_cash"`
	Params          map[string]any `json:"params,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// RunStats 汇总收益与风控指标。
type RunStats struct {
	InitialCash    float64   `json:"initial_cash"`
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Orders         int       `json:"orders"`
	Trades         int       `json:"trades"`
	Rejected       int       `json:"rejected"`
	Canceled       int       `json:"canceled"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Snapshots      int       `json:"snapshots"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	TradingDays    int       `json:"trading_days"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID              string    `json:"id"`
	Product         string    `json:"product"`
	Strategy        string    `json:"strategy"`
	DriveInstrument string    `json:"drive_instrument"`
	Status          string    `json:"status"`
	FromDay         string    `json:"from_day"`
	ToDay           string    `json:"to_day"`
	Granularity     string    `json:"granularity"`
	MatchMode       string    `json:"match_mode"`
	InitialCash     float64   `json:"initial_cash"`
	FinalEquity     float64   `json:"final_equity"`
	Profit          float64   `json:"profit"`
	ReturnPct       float64   `json:"return_pct"`
	WinRate         float64   `json:"win_rate"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Orders          int       `json:"orders"`
	Trades          int       `json:"trades"`
	Message         string    `json:"message"`
	Config          RunConfig `json:"config"`
	Stats           RunStats  `json:"stats"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Snapshot 保存资金曲线上的一个采样点。
type Snapshot struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	TS         int64   `json:"ts"`
	TradingDay string  `json:"trading_day"`
	Equity     float64 `json:"equity"`
	Cash       float64 `json:"cash"`
	Margin     float64 `json:"margin"`
	Drawdown   float64 `json:"drawdown"`
	Note       string  `json:"note,omitempty"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Product         string         `json:"product"`
	Strategy        string         `json:"strategy"`
	Exchange        string         `json:"exchange"`
	DriveInstrument string         `json:"drive_instrument" binding:"required"`
	Subscribed      []string       `json:"subscribed"`
	FromDay         string         `json:"from_day" binding:"required"`
	ToDay           string         `json:"to_day" binding:"required"`
	Granularity     string         `json:"granularity"`
	Interval        int            `json:"interval"`
	MatchMode       string         `json:"match_mode"`
	InitialCash     float64        `json:"initial_cash"`
	Params          map[string]any `json:"params"`
}
