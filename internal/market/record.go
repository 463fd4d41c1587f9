package market

import "time"

// DayFormat 交易日的标准格式（如 20260105）。
const DayFormat = "20060102"

// FormatDay 把时间转成交易日字符串。
func FormatDay(t time.Time) string {
	return t.Format(DayFormat)
}

// ParseDay 解析交易日字符串。
func ParseDay(day string) (time.Time, error) {
	return time.Parse(DayFormat, day)
}

// Record 是回放序列中的一条行情（Bar 或 Tick），对消费者只读。
type Record interface {
	RecordInstrument() string
	RecordTradingDay() string
	// RecordTime 返回事件时间（Unix 毫秒），Bar 取收盘时刻。
	RecordTime() int64
}

// Bar 表示一根 K 线。
type Bar struct {
	InstrumentID string  `json:"instrument_id"`
	TradingDay   string  `json:"trading_day"`
	Interval     string  `json:"interval"`
	OpenTime     int64   `json:"open_time"`
	CloseTime    int64   `json:"close_time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest,omitempty"`
}

func (b Bar) RecordInstrument() string { return b.InstrumentID }
func (b Bar) RecordTradingDay() string { return b.TradingDay }
func (b Bar) RecordTime() int64        { return b.CloseTime }

// Tick 表示一条逐笔快照。
type Tick struct {
	InstrumentID string  `json:"instrument_id"`
	TradingDay   string  `json:"trading_day"`
	Time         int64   `json:"time"`
	Last         float64 `json:"last"`
	BidPrice     float64 `json:"bid_price"`
	BidVolume    float64 `json:"bid_volume"`
	AskPrice     float64 `json:"ask_price"`
	AskVolume    float64 `json:"ask_volume"`
	Volume       float64 `json:"volume"`
}

func (t Tick) RecordInstrument() string { return t.InstrumentID }
func (t Tick) RecordTradingDay() string { return t.TradingDay }
func (t Tick) RecordTime() int64        { return t.Time }
