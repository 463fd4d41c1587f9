package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/replay"
)

// SMACross 双均线交叉策略：金叉开多，死叉平多并反手开空。
// 只消费驱动合约的 Bar，撮合价取当前收盘价。
type SMACross struct {
	Base

	instrumentID string
	fast         int
	slow         int
	volume float64

	closes []float64
	// 上一根 Bar 的快慢线，0 表示尚未形成
	prevFast float64
	prevSlow float64
}

// NewSMACross 创建双均线策略，fast 必须小于 slow。
func NewSMACross(instrumentID string, fast, slow int, volume float64) (*SMACross, error) {
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("均线参数非法：fast=%d slow=%d", fast, slow)
	}
	if volume <= 0 {
		volume = 1
	}
	return &SMACross{
		instrumentID: instrumentID,
		fast:         fast,
		slow:         slow,
		volume:       volume,
	}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) OnBar(ctx *Context, ev replay.BarEvent) error {
	bar := ev.Drive
	if bar.InstrumentID != s.instrumentID {
		return nil
	}
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.slow {
		return nil
	}

	fastArr := talib.Sma(s.closes, s.fast)
	slowArr := talib.Sma(s.closes, s.slow)
	currFast := fastArr[len(fastArr)-1]
	currSlow := slowArr[len(slowArr)-1]
	defer func() {
		s.prevFast = currFast
		s.prevSlow = currSlow
	}()
	if s.prevFast == 0 || s.prevSlow == 0 {
		return nil
	}

	switch {
	case s.prevFast <= s.prevSlow && currFast > currSlow:
		// 金叉：先平空再开多
		if pos, ok := ctx.Position(s.instrumentID, market.PositionShort); ok && pos.Volume > 0 {
			if _, err := ctx.CloseShort(s.instrumentID, bar.Close, pos.Volume); err != nil {
				return err
			}
		}
		if _, err := ctx.OpenLong(s.instrumentID, bar.Close, s.volume); err != nil {
			logger.Warnf("金叉开多失败：%v", err)
		}
	case s.prevFast >= s.prevSlow && currFast < currSlow:
		// 死叉：先平多再开空
		if pos, ok := ctx.Position(s.instrumentID, market.PositionLong); ok && pos.Volume > 0 {
			if _, err := ctx.CloseLong(s.instrumentID, bar.Close, pos.Volume); err != nil {
				return err
			}
		}
		if _, err := ctx.OpenShort(s.instrumentID, bar.Close, s.volume); err != nil {
			logger.Warnf("死叉开空失败：%v", err)
		}
	}
	return nil
}

func (s *SMACross) OnDayEnd(ctx *Context, day string) error {
	if n := ctx.CancelAll(); n > 0 {
		logger.Debugf("%s 收盘撤单 %d 笔", day, n)
	}
	return nil
}
