package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/pkg/trading"
	"backsim/internal/replay"
)

// RSIReversion 超买超卖反转策略：RSI 跌破超卖线开多，涨破超买线开空，
// 回到中性区间时把持仓平掉一半，再次穿越反向阈值时全部平掉并反手。
type RSIReversion struct {
	Base

	instrumentID string
	period       int
	oversold     float64
	overbought   float64
	volume       float64

	closes  []float64
	prevRSI float64
}

// NewRSIReversion 创建 RSI 反转策略，阈值须满足 0 < oversold < overbought < 100。
func NewRSIReversion(instrumentID string, period int, oversold, overbought, volume float64) (*RSIReversion, error) {
	if period <= 1 {
		return nil, fmt.Errorf("RSI 周期非法：%d", period)
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("RSI 阈值非法：oversold=%.1f overbought=%.1f", oversold, overbought)
	}
	if volume <= 0 {
		volume = 1
	}
	return &RSIReversion{
		instrumentID: instrumentID,
		period:       period,
		oversold:     oversold,
		overbought:   overbought,
		volume:       volume,
	}, nil
}

func (s *RSIReversion) Name() string { return "rsi_reversion" }

func (s *RSIReversion) OnBar(ctx *Context, ev replay.BarEvent) error {
	bar := ev.Drive
	if bar.InstrumentID != s.instrumentID {
		return nil
	}
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) <= s.period {
		return nil
	}

	rsiArr := talib.Rsi(s.closes, s.period)
	curr := rsiArr[len(rsiArr)-1]
	prev := s.prevRSI
	s.prevRSI = curr
	if prev == 0 {
		return nil
	}

	mid := (s.oversold + s.overbought) / 2
	switch {
	case prev >= s.oversold && curr < s.oversold:
		// 跌入超卖区：先平空再开多
		if pos, ok := ctx.Position(s.instrumentID, market.PositionShort); ok && pos.Volume > 0 {
			if _, err := ctx.CloseShort(s.instrumentID, bar.Close, pos.Volume); err != nil {
				return err
			}
		}
		if _, err := ctx.OpenLong(s.instrumentID, bar.Close, s.volume); err != nil {
			logger.Warnf("超卖开多失败：%v", err)
		}
	case prev <= s.overbought && curr > s.overbought:
		// 涨入超买区：先平多再开空
		if pos, ok := ctx.Position(s.instrumentID, market.PositionLong); ok && pos.Volume > 0 {
			if _, err := ctx.CloseLong(s.instrumentID, bar.Close, pos.Volume); err != nil {
				return err
			}
		}
		if _, err := ctx.OpenShort(s.instrumentID, bar.Close, s.volume); err != nil {
			logger.Warnf("超买开空失败：%v", err)
		}
	case prev < mid && curr >= mid:
		// 回到中性区间：多头先落袋一半
		if pos, ok := ctx.Position(s.instrumentID, market.PositionLong); ok && pos.Volume > 0 {
			half := trading.CloseVolume(pos.Volume, 0.5)
			if half > 0 {
				if _, err := ctx.CloseLong(s.instrumentID, bar.Close, half); err != nil {
					logger.Warnf("中性区间减仓失败：%v", err)
				}
			}
		}
	case prev > mid && curr <= mid:
		if pos, ok := ctx.Position(s.instrumentID, market.PositionShort); ok && pos.Volume > 0 {
			half := trading.CloseVolume(pos.Volume, 0.5)
			if half > 0 {
				if _, err := ctx.CloseShort(s.instrumentID, bar.Close, half); err != nil {
					logger.Warnf("中性区间减仓失败：%v", err)
				}
			}
		}
	}
	return nil
}

func (s *RSIReversion) OnDayEnd(ctx *Context, day string) error {
	if n := ctx.CancelAll(); n > 0 {
		logger.Debugf("%s 收盘撤单 %d 笔", day, n)
	}
	return nil
}
