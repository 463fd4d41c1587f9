package replay

import (
	"context"

	"backsim/internal/market"
)

// DataSource 是调度器消费的历史行情接口，由 histdata 等实现。
// 所有加载都发生在当日事件触发之前，单次、同步。
type DataSource interface {
	// Init 在每个交易日装载前调用，留给实现做会话准备。
	Init(ctx context.Context, tradingDay string) error
	// LoadBarSeries 加载指定交易日区间内的 K 线（interval 为周期数值，unit 为 minute/hour/day）。
	LoadBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, fromDay, toDay string) ([]market.Bar, error)
	// LoadNightBarSeries 加载归属指定交易日的夜盘 K 线。
	LoadNightBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, tradingDay string) ([]market.Bar, error)
	// LoadTickSeries 加载指定交易日的全部 tick。
	LoadTickSeries(ctx context.Context, exchange, instrumentID, tradingDay string) ([]market.Tick, error)
}

// Calendar 提供交易日历查询。
type Calendar interface {
	// FirstTradingDay 返回 day 所在月份的首个交易日。
	FirstTradingDay(day string) (string, error)
	// LastTradingDay 返回 day 所在月份的最后一个交易日。
	LastTradingDay(day string) (string, error)
	// TradingDays 返回 [fromDay, toDay] 区间内的全部交易日（升序）。
	TradingDays(fromDay, toDay string) ([]string, error)
}
