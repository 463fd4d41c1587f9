package histdata

import (
	"context"
	"fmt"
	"strings"

	"backsim/internal/logger"
	"backsim/internal/market"
)

// IntervalKey 把（周期数值，单位）编码成存储键，如 1m / 1h / 1d。
func IntervalKey(interval int, unit string) (string, error) {
	if interval <= 0 {
		interval = 1
	}
	switch strings.ToLower(unit) {
	case "minute", "m":
		return fmt.Sprintf("%dm", interval), nil
	case "hour", "h":
		return fmt.Sprintf("%dh", interval), nil
	case "day", "d":
		return fmt.Sprintf("%dd", interval), nil
	default:
		return "", fmt.Errorf("未知的周期单位 %q", unit)
	}
}

// StoreSource 把 Store 适配成回放调度器的数据源。
type StoreSource struct {
	store *Store
}

// NewStoreSource 创建基于本地行情库的数据源。
func NewStoreSource(store *Store) (*StoreSource, error) {
	if store == nil {
		return nil, fmt.Errorf("行情库不能为空")
	}
	return &StoreSource{store: store}, nil
}

// Init 每个交易日装载前调用一次；本地库无需特别准备。
func (s *StoreSource) Init(ctx context.Context, tradingDay string) error {
	logger.Debugf("行情库准备交易日 %s", tradingDay)
	return nil
}

// LoadBarSeries 按交易日区间装载日盘 K 线。
func (s *StoreSource) LoadBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, fromDay, toDay string) ([]market.Bar, error) {
	key, err := IntervalKey(interval, unit)
	if err != nil {
		return nil, err
	}
	if fromDay == toDay {
		return s.store.BarsByDay(ctx, instrumentID, key, fromDay, SessionDay)
	}
	from, err := market.ParseDay(fromDay)
	if err != nil {
		return nil, err
	}
	to, err := market.ParseDay(toDay)
	if err != nil {
		return nil, err
	}
	var out []market.Bar
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		bars, err := s.store.BarsByDay(ctx, instrumentID, key, market.FormatDay(t), SessionDay)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	return out, nil
}

// LoadNightBarSeries 装载归属指定交易日的夜盘 K 线。
func (s *StoreSource) LoadNightBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, tradingDay string) ([]market.Bar, error) {
	key, err := IntervalKey(interval, unit)
	if err != nil {
		return nil, err
	}
	return s.store.BarsByDay(ctx, instrumentID, key, tradingDay, SessionNight)
}

// LoadTickSeries 装载指定交易日的全部 tick。
func (s *StoreSource) LoadTickSeries(ctx context.Context, exchange, instrumentID, tradingDay string) ([]market.Tick, error) {
	return s.store.TicksByDay(ctx, instrumentID, tradingDay)
}
