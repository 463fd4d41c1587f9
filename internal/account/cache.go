// Package account 实现回测用的资金/持仓缓存（Future Cache）。
// 撮合中心只通过只读视图读取它；持仓与资金的变动完全由成交事件驱动。
package account

import (
	"github.com/shopspring/decimal"

	"backsim/internal/logger"
	"backsim/internal/market"
)

// Cache 维护单个（产品，策略）维度的资金与持仓。
// 与回放同线程使用，不做并发保护。
type Cache struct {
	product  string
	strategy string

	cash        decimal.Decimal
	instruments map[string]market.Instrument
	positions   map[market.PositionKey]*market.Position

	realized decimal.Decimal
}

// NewCache 创建初始资金为 initialCash 的缓存。
func NewCache(product, strategy string, initialCash decimal.Decimal, instruments map[string]market.Instrument) *Cache {
	ins := make(map[string]market.Instrument, len(instruments))
	for id, inst := range instruments {
		ins[id] = inst
	}
	return &Cache{
		product:     product,
		strategy:    strategy,
		cash:        initialCash,
		instruments: ins,
		positions:   make(map[market.PositionKey]*market.Position),
	}
}

// AvailableCash 返回可用资金。
func (c *Cache) AvailableCash() decimal.Decimal { return c.cash }

// Realized 返回累计已实现盈亏。
func (c *Cache) Realized() decimal.Decimal { return c.realized }

// Instrument 返回合约静态信息。
func (c *Cache) Instrument(instrumentID string) (market.Instrument, bool) {
	inst, ok := c.instruments[instrumentID]
	return inst, ok
}

// SetInstruments 整体替换合约表（注册表热更新时调用）。
func (c *Cache) SetInstruments(instruments map[string]market.Instrument) {
	ins := make(map[string]market.Instrument, len(instruments))
	for id, inst := range instruments {
		ins[id] = inst
	}
	c.instruments = ins
}

// Position 查询指定维度的持仓。
func (c *Cache) Position(product, strategy, instrumentID string, dir market.PositionDirection) (market.Position, bool) {
	key := market.PositionKey{
		Product:      product,
		Strategy:     strategy,
		InstrumentID: instrumentID,
		Direction:    dir,
	}
	if p, ok := c.positions[key]; ok && p.Volume > 0 {
		return *p, true
	}
	return market.Position{}, false
}

// Positions 返回全部非空持仓的快照。
func (c *Cache) Positions() []market.Position {
	out := make([]market.Position, 0, len(c.positions))
	for _, p := range c.positions {
		if p.Volume > 0 {
			out = append(out, *p)
		}
	}
	return out
}

// ApplyTrade 按成交更新资金与持仓：开仓占用保证金，平仓释放
// 保证金并实现盈亏。通常注册为撮合中心的成交观察者。
func (c *Cache) ApplyTrade(t market.Trade) error {
	inst, ok := c.instruments[t.InstrumentID]
	if !ok {
		logger.Warnf("成交合约 %s 无静态信息，跳过资金核算", t.InstrumentID)
		return nil
	}
	switch t.Offset {
	case market.OffsetOpen:
		c.applyOpen(t, inst)
	case market.OffsetClose:
		c.applyClose(t, inst)
	}
	return nil
}

func (c *Cache) applyOpen(t market.Trade, inst market.Instrument) {
	dir := market.PositionLong
	if t.Direction == market.DirectionSell {
		dir = market.PositionShort
	}
	margin := decimal.NewFromFloat(t.Price).
		Mul(decimal.NewFromFloat(t.Volume)).
		Mul(inst.VolumeMultiple).
		Mul(inst.MarginRate(t.Direction))
	c.cash = c.cash.Sub(margin)

	key := market.PositionKey{
		Product:      c.product,
		Strategy:     c.strategy,
		InstrumentID: t.InstrumentID,
		Direction:    dir,
	}
	pos, ok := c.positions[key]
	if !ok {
		pos = &market.Position{
			Product:      c.product,
			Strategy:     c.strategy,
			InstrumentID: t.InstrumentID,
			Direction:    dir,
		}
		c.positions[key] = pos
	}
	total := pos.Volume + t.Volume
	if total > 0 {
		pos.OpenPrice = (pos.OpenPrice*pos.Volume + t.Price*t.Volume) / total
	}
	pos.Volume = total
	pos.Margin = pos.Margin.Add(margin)
}

func (c *Cache) applyClose(t market.Trade, inst market.Instrument) {
	dir := market.OffsetPositionDirection(t.Direction)
	key := market.PositionKey{
		Product:      c.product,
		Strategy:     c.strategy,
		InstrumentID: t.InstrumentID,
		Direction:    dir,
	}
	pos, ok := c.positions[key]
	if !ok || pos.Volume <= 0 {
		logger.Warnf("平仓成交找不到对应持仓 %s %s，已忽略", t.InstrumentID, dir)
		return
	}
	vol := t.Volume
	if vol > pos.Volume {
		vol = pos.Volume
	}
	ratio := decimal.NewFromFloat(vol).Div(decimal.NewFromFloat(pos.Volume))
	released := pos.Margin.Mul(ratio)

	diff := t.Price - pos.OpenPrice
	if dir == market.PositionShort {
		diff = pos.OpenPrice - t.Price
	}
	pnl := decimal.NewFromFloat(diff).
		Mul(decimal.NewFromFloat(vol)).
		Mul(inst.VolumeMultiple)

	c.cash = c.cash.Add(released).Add(pnl)
	c.realized = c.realized.Add(pnl)

	pos.Volume -= vol
	pos.Margin = pos.Margin.Sub(released)
	if pos.Volume <= 0 {
		delete(c.positions, key)
	}
}
