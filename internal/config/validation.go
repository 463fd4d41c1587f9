package config

import (
	"fmt"
	"strings"

	"backsim/internal/market"
)

// validate 对配置进行基础校验。非法的回放粒度、撮合模式和缺失的
// 驱动合约都属于致命配置错误，在启动阶段直接报出。
func validate(c *Config) error {
	if err := c.Calendar.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (cal *CalendarConfig) validate() error {
	for _, day := range cal.Holidays {
		if _, err := market.ParseDay(day); err != nil {
			return fmt.Errorf("calendar.holidays 含非法日期 %q（须为 yyyyMMdd）", day)
		}
	}
	return nil
}

func (f *FetchConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.Source)) {
	case "binance", "raw":
	default:
		return fmt.Errorf("fetch.source 仅支持 binance/raw，当前为 %q", f.Source)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if strings.TrimSpace(b.DriveInstrument) == "" {
		return fmt.Errorf("backtest.drive_instrument 不能为空")
	}
	switch b.Granularity {
	case "day", "hour", "minute", "tick", "session":
	default:
		return fmt.Errorf("backtest.granularity 非法: %q", b.Granularity)
	}
	switch b.MatchMode {
	case "last_price", "order_price":
	default:
		return fmt.Errorf("backtest.match_mode 非法: %q", b.MatchMode)
	}
	if b.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash 必须为正")
	}
	for _, day := range []string{b.FromDay, b.ToDay} {
		if strings.TrimSpace(day) == "" {
			continue
		}
		if _, err := market.ParseDay(day); err != nil {
			return fmt.Errorf("backtest 回测区间含非法日期 %q（须为 yyyyMMdd）", day)
		}
	}
	return nil
}
