package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"backsim/internal/logger"
	"backsim/internal/market"
	"backsim/internal/pkg/eventbus"
)

// Mode 选择撮合策略，仅在构造撮合中心时分派一次。
type Mode string

const (
	ModeLastPrice  Mode = "last_price"
	ModeOrderPrice Mode = "order_price"
)

// ErrUnknownMatchMode 未知撮合模式，构造期即报出。
var ErrUnknownMatchMode = errors.New("未知的撮合模式")

// 撮合中心事件种类。
const (
	kindOrder        = "order"
	kindTrade        = "trade"
	kindRejected     = "order_rejected"
	kindCanceled     = "order_canceled"
	kindCancelFailed = "cancel_failed"
)

// AccountView 是注入撮合中心的只读资金/持仓视图（外部 Future Cache），
// 撮合中心从不直接改写它，持仓变动由成交事件驱动。
type AccountView interface {
	AvailableCash() decimal.Decimal
	Position(product, strategy, instrumentID string, dir market.PositionDirection) (market.Position, bool)
	Instrument(instrumentID string) (market.Instrument, bool)
}

// CancelFailure 撤单失败事件载荷。
type CancelFailure struct {
	Order   *market.Order
	Message string
}

// Center 撮合中心：接收订单、执行风控前置检查、委托撮合策略，
// 并把生命周期事件按注册顺序广播给观察者。
type Center struct {
	machine  Machine
	account  AccountView
	orderSeq int64

	tradingDay string
	now        time.Time

	orderBus        *eventbus.Bus[*market.Order]
	tradeBus        *eventbus.Bus[market.Trade]
	rejectedBus     *eventbus.Bus[*market.Order]
	canceledBus     *eventbus.Bus[*market.Order]
	cancelFailedBus *eventbus.Bus[CancelFailure]
}

// NewCenter 按模式构造撮合中心；未知模式是致命配置错误。
func NewCenter(mode Mode, account AccountView) (*Center, error) {
	if account == nil {
		return nil, errors.New("资金持仓视图不能为空")
	}
	var machine Machine
	switch mode {
	case ModeLastPrice:
		machine = NewLastPriceMachine()
	case ModeOrderPrice:
		machine = NewOrderPriceMachine()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatchMode, mode)
	}
	return &Center{
		machine:         machine,
		account:         account,
		orderBus:        eventbus.New[*market.Order](kindOrder),
		tradeBus:        eventbus.New[market.Trade](kindTrade),
		rejectedBus:     eventbus.New[*market.Order](kindRejected),
		canceledBus:     eventbus.New[*market.Order](kindCanceled),
		cancelFailedBus: eventbus.New[CancelFailure](kindCancelFailed),
	}, nil
}

// SetDebug 控制观察者失败是否中止回放。
func (c *Center) SetDebug(debug bool) {
	c.orderBus.SetDebug(debug)
	c.tradeBus.SetDebug(debug)
	c.rejectedBus.SetDebug(debug)
	c.canceledBus.SetDebug(debug)
	c.cancelFailedBus.SetDebug(debug)
}

// RegisterOrder 注册订单更新观察者。
func (c *Center) RegisterOrder(fn func(*market.Order) error) eventbus.Handle {
	return c.orderBus.Register(fn)
}

// RegisterTrade 注册成交观察者。
func (c *Center) RegisterTrade(fn func(market.Trade) error) eventbus.Handle {
	return c.tradeBus.Register(fn)
}

// RegisterRejected 注册拒单观察者。
func (c *Center) RegisterRejected(fn func(*market.Order) error) eventbus.Handle {
	return c.rejectedBus.Register(fn)
}

// RegisterCanceled 注册撤单成功观察者。
func (c *Center) RegisterCanceled(fn func(*market.Order) error) eventbus.Handle {
	return c.canceledBus.Register(fn)
}

// RegisterCancelFailed 注册撤单失败观察者。
func (c *Center) RegisterCancelFailed(fn func(CancelFailure) error) eventbus.Handle {
	return c.cancelFailedBus.Register(fn)
}

// Remove 按句柄移除观察者。
func (c *Center) Remove(h eventbus.Handle) bool {
	switch h.Kind() {
	case kindOrder:
		return c.orderBus.Remove(h)
	case kindTrade:
		return c.tradeBus.Remove(h)
	case kindRejected:
		return c.rejectedBus.Remove(h)
	case kindCanceled:
		return c.canceledBus.Remove(h)
	case kindCancelFailed:
		return c.cancelFailedBus.Remove(h)
	}
	return false
}

// TradingDay 返回当前交易日。
func (c *Center) TradingDay() string { return c.tradingDay }

// Now 返回撮合时钟当前值（Unix 毫秒），时钟未推进时为 0。
func (c *Center) Now() int64 {
	if c.now.IsZero() {
		return 0
	}
	return c.now.UnixMilli()
}

// OnBar 仅推进撮合中心的模拟时钟，不触发撮合。
func (c *Center) OnBar(bar market.Bar) {
	c.tradingDay = bar.TradingDay
	c.now = time.UnixMilli(bar.CloseTime)
}

// OnTick 同 OnBar。
func (c *Center) OnTick(tick market.Tick) {
	c.tradingDay = tick.TradingDay
	c.now = time.UnixMilli(tick.Time)
}

// MatchByBar 推进时钟、委托撮合策略，并按成交顺序先发订单更新
// 再发成交事件。
func (c *Center) MatchByBar(bar market.Bar) error {
	c.OnBar(bar)
	return c.dispatchPairs(c.machine.MatchByBar(bar))
}

// MatchByTick 同 MatchByBar，粒度为 tick。
func (c *Center) MatchByTick(tick market.Tick) error {
	c.OnTick(tick)
	return c.dispatchPairs(c.machine.MatchByTick(tick))
}

func (c *Center) dispatchPairs(pairs []Pair) error {
	for _, p := range pairs {
		if err := c.orderBus.Fire(p.Order); err != nil {
			return err
		}
		if err := c.tradeBus.Fire(p.Trade); err != nil {
			return err
		}
	}
	return nil
}

// Enter 接收新订单：编号、盖时间戳、风控检查，通过后交给撮合
// 策略并置为已报；被拒的订单不会进入撮合策略。
func (c *Center) Enter(o *market.Order) error {
	c.orderSeq++
	o.SysID = c.orderSeq
	o.TradingDay = c.tradingDay
	if o.OrderTime.IsZero() {
		o.OrderTime = c.now
	}
	if o.LocalOrderTime.IsZero() {
		o.LocalOrderTime = c.now
	}
	o.Status = market.StatusPendingSubmit
	if err := c.orderBus.Fire(o); err != nil {
		return err
	}
	if reason, ok := c.precheck(o); !ok {
		o.Status = market.StatusRejected
		o.Reason = reason
		o.Remark = reason.Message
		return c.rejectedBus.Fire(o)
	}
	c.machine.Enter(o)
	o.Status = market.StatusSubmitted
	return c.orderBus.Fire(o)
}

// CancelOrder 撤单。成功时补记撤销数量并置为已撤；失败说明订单
// 事实上已全部成交，置为全部成交并广播撤单失败。
func (c *Center) CancelOrder(o *market.Order) (bool, error) {
	if o.Status.Terminal() {
		// 终态订单不再变更。
		return false, c.cancelFailedBus.Fire(CancelFailure{Order: o, Message: "订单已处于终态"})
	}
	ok, msg := c.machine.Cancel(o)
	if ok {
		o.CanceledVolume = o.Volume - o.FilledVolume
		o.Status = market.StatusCanceled
		if o.CancelTime.IsZero() {
			o.CancelTime = c.now
		}
		return true, c.canceledBus.Fire(o)
	}
	o.Status = market.StatusAllFilled
	o.Reason = market.Reason{Code: market.ReasonAlreadyFilled, Message: msg}
	return false, c.cancelFailedBus.Fire(CancelFailure{Order: o, Message: msg})
}

// CancelableOrders 返回当前可撤订单。
func (c *Center) CancelableOrders() []*market.Order {
	return c.machine.CancelableOrders()
}

// precheck 风控前置：开仓验保证金，平仓验持仓，其余放行。
func (c *Center) precheck(o *market.Order) (market.Reason, bool) {
	switch o.Offset {
	case market.OffsetOpen:
		inst, ok := c.account.Instrument(o.InstrumentID)
		if !ok {
			logger.Warnf("合约 %s 无静态信息，跳过保证金检查", o.InstrumentID)
			return market.Reason{}, true
		}
		need := decimal.NewFromFloat(o.Price).
			Mul(decimal.NewFromFloat(o.Volume)).
			Mul(inst.VolumeMultiple).
			Mul(inst.MarginRate(o.Direction))
		cash := c.account.AvailableCash()
		if cash.LessThan(need) {
			return market.Reason{
				Code:    market.ReasonInsufficientFunds,
				Message: fmt.Sprintf("可用资金不足：需要保证金 %s，可用 %s", need, cash),
			}, false
		}
	case market.OffsetClose:
		dir := market.OffsetPositionDirection(o.Direction)
		if _, ok := c.account.Position(o.Product, o.Strategy, o.InstrumentID, dir); !ok {
			return market.Reason{
				Code:    market.ReasonInsufficientPosition,
				Message: fmt.Sprintf("可平持仓不足：%s 无 %s 方向持仓", o.InstrumentID, dir),
			}, false
		}
	}
	return market.Reason{}, true
}
