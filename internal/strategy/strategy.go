package strategy

import (
	"fmt"

	"backsim/internal/account"
	"backsim/internal/market"
	"backsim/internal/match"
	"backsim/internal/replay"
)

// Strategy 是回测策略的生命周期接口，钩子与调度事件一一对应。
// 不需要的钩子直接内嵌 Base 即可。
type Strategy interface {
	Name() string
	OnStart(ctx *Context) error
	OnDayBegin(ctx *Context, day string) error
	OnBar(ctx *Context, ev replay.BarEvent) error
	OnTick(ctx *Context, ev replay.TickEvent) error
	OnDayEnd(ctx *Context, day string) error
	OnEnd(ctx *Context) error
}

// Factory 按 run 创建策略实例，实例可携带内部状态。
type Factory interface {
	NewStrategy(spec Spec) (Strategy, error)
}

// Spec 描述一次 run 的策略上下文。
type Spec struct {
	RunID        string
	Product      string
	InstrumentID string
	Exchange     string
	Params       map[string]any
}

// Context 封装撮合中心与资金账户，供策略下单、撤单、查仓。
type Context struct {
	center  *match.Center
	account *account.Cache

	product  string
	strategy string
	exchange string
}

// NewContext 创建策略执行上下文。
func NewContext(center *match.Center, acct *account.Cache, product, strategyName, exchange string) *Context {
	return &Context{
		center:   center,
		account:  acct,
		product:  product,
		strategy: strategyName,
		exchange: exchange,
	}
}

// Now 返回撮合时钟当前值（Unix 毫秒）。
func (c *Context) Now() int64 { return c.center.Now() }

// Account 返回资金账户视图。
func (c *Context) Account() *account.Cache { return c.account }

// Enter 提交限价单，返回系统单号。
func (c *Context) Enter(instrumentID string, direction market.Direction, offset market.Offset, price float64, volume float64) (*market.Order, error) {
	if volume <= 0 {
		return nil, fmt.Errorf("下单数量必须为正：%v", volume)
	}
	o := &market.Order{
		Product:      c.product,
		Strategy:     c.strategy,
		InstrumentID: instrumentID,
		Exchange:     c.exchange,
		Direction:    direction,
		Offset:       offset,
		Price:        price,
		Volume:       volume,
	}
	if err := c.center.Enter(o); err != nil {
		return nil, err
	}
	return o, nil
}

// OpenLong 买开。
func (c *Context) OpenLong(instrumentID string, price float64, volume float64) (*market.Order, error) {
	return c.Enter(instrumentID, market.DirectionBuy, market.OffsetOpen, price, volume)
}

// OpenShort 卖开。
func (c *Context) OpenShort(instrumentID string, price float64, volume float64) (*market.Order, error) {
	return c.Enter(instrumentID, market.DirectionSell, market.OffsetOpen, price, volume)
}

// CloseLong 卖平多。
func (c *Context) CloseLong(instrumentID string, price float64, volume float64) (*market.Order, error) {
	return c.Enter(instrumentID, market.DirectionSell, market.OffsetClose, price, volume)
}

// CloseShort 买平空。
func (c *Context) CloseShort(instrumentID string, price float64, volume float64) (*market.Order, error) {
	return c.Enter(instrumentID, market.DirectionBuy, market.OffsetClose, price, volume)
}

// Cancel 撤销指定订单，返回是否撤销成功。
func (c *Context) Cancel(o *market.Order) (bool, error) { return c.center.CancelOrder(o) }

// CancelAll 撤销全部可撤订单，返回实际撤销数量。
func (c *Context) CancelAll() int {
	canceled := 0
	for _, o := range c.center.CancelableOrders() {
		if ok, _ := c.center.CancelOrder(o); ok {
			canceled++
		}
	}
	return canceled
}

// CancelableOrders 返回当前全部可撤订单。
func (c *Context) CancelableOrders() []*market.Order { return c.center.CancelableOrders() }

// Position 查询指定方向持仓，第二个返回值表示是否存在。
func (c *Context) Position(instrumentID string, dir market.PositionDirection) (market.Position, bool) {
	return c.account.Position(c.product, c.strategy, instrumentID, dir)
}

// Base 提供全部钩子的空实现，策略可按需覆写。
type Base struct{}

func (Base) OnStart(*Context) error                  { return nil }
func (Base) OnDayBegin(*Context, string) error       { return nil }
func (Base) OnBar(*Context, replay.BarEvent) error   { return nil }
func (Base) OnTick(*Context, replay.TickEvent) error { return nil }
func (Base) OnDayEnd(*Context, string) error         { return nil }
func (Base) OnEnd(*Context) error                    { return nil }
