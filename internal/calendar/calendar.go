// Package calendar 提供交易日历查询的默认实现：
// 周一至周五为交易日，节假日由配置注入。
package calendar

import (
	"fmt"
	"time"

	"backsim/internal/market"
)

// Weekday 基于星期与节假日表的交易日历。
type Weekday struct {
	holidays map[string]bool
}

// NewWeekday 创建日历，holidays 为 20060102 格式的休市日列表。
func NewWeekday(holidays []string) *Weekday {
	m := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		m[d] = true
	}
	return &Weekday{holidays: m}
}

// IsTradingDay 判断某日是否为交易日。
func (c *Weekday) IsTradingDay(day string) (bool, error) {
	t, err := market.ParseDay(day)
	if err != nil {
		return false, fmt.Errorf("非法交易日 %q: %w", day, err)
	}
	return c.isTrading(t), nil
}

func (c *Weekday) isTrading(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[market.FormatDay(t)]
}

// TradingDays 返回闭区间 [fromDay, toDay] 内的全部交易日。
func (c *Weekday) TradingDays(fromDay, toDay string) ([]string, error) {
	from, err := market.ParseDay(fromDay)
	if err != nil {
		return nil, fmt.Errorf("非法起始日 %q: %w", fromDay, err)
	}
	to, err := market.ParseDay(toDay)
	if err != nil {
		return nil, fmt.Errorf("非法结束日 %q: %w", toDay, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("结束日 %s 早于起始日 %s", toDay, fromDay)
	}
	var out []string
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		if c.isTrading(t) {
			out = append(out, market.FormatDay(t))
		}
	}
	return out, nil
}

// FirstTradingDay 返回 day 所在月份的首个交易日。
func (c *Weekday) FirstTradingDay(day string) (string, error) {
	t, err := market.ParseDay(day)
	if err != nil {
		return "", fmt.Errorf("非法交易日 %q: %w", day, err)
	}
	cur := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	for cur.Month() == t.Month() {
		if c.isTrading(cur) {
			return market.FormatDay(cur), nil
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return "", fmt.Errorf("%s 所在月份没有交易日", day)
}

// LastTradingDay 返回 day 所在月份的最后一个交易日。
func (c *Weekday) LastTradingDay(day string) (string, error) {
	t, err := market.ParseDay(day)
	if err != nil {
		return "", fmt.Errorf("非法交易日 %q: %w", day, err)
	}
	cur := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).
		AddDate(0, 1, -1)
	for cur.Month() == t.Month() {
		if c.isTrading(cur) {
			return market.FormatDay(cur), nil
		}
		cur = cur.AddDate(0, 0, -1)
	}
	return "", fmt.Errorf("%s 所在月份没有交易日", day)
}
