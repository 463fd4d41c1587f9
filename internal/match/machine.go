// Package match 实现回测撮合：两种撮合策略（最新价 / 委托价）
// 与负责风控前置检查和订单生命周期的撮合中心。
package match

import (
	"time"

	"backsim/internal/market"
)

// Pair 表示一次增量成交：订单的最新快照加上对应的一笔成交。
// 一笔 Trade 恰好对应一次成交事件；同一订单被多次部分成交时会
// 出现在多个 Pair 中。
type Pair struct {
	Order *market.Order
	Trade market.Trade
}

// Machine 是撮合策略的公共能力集。两个实现对相同的输入序列
// 必须产生相同的输出（无随机、无真实时钟），这是回测可复现的根基。
type Machine interface {
	// Enter 登记一笔新挂单，等待后续行情触发成交，不会立即撮合。
	Enter(o *market.Order)
	// Cancel 撤销仍有剩余数量的挂单；失败（已全部成交）时返回
	// false 与说明文案，绝不凭空制造成交。
	Cancel(o *market.Order) (bool, string)
	// MatchByBar 用一根 K 线撮合该合约的全部挂单。
	MatchByBar(bar market.Bar) []Pair
	// MatchByTick 同上，粒度为 tick。
	MatchByTick(tick market.Tick) []Pair
	// CancelableOrders 返回当前可撤的挂单。
	CancelableOrders() []*market.Order
}

// book 维护挂单簿：按进入顺序（系统编号升序）排列，先进先出撮合。
type book struct {
	pending  []*market.Order
	tradeSeq int64
}

func (b *book) enter(o *market.Order) {
	b.pending = append(b.pending, o)
}

func (b *book) cancel(o *market.Order) (bool, string) {
	for i, p := range b.pending {
		if p.SysID != o.SysID {
			continue
		}
		if p.Remaining() <= 0 {
			break
		}
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
		return true, ""
	}
	return false, "订单已全部成交，无法撤销"
}

func (b *book) cancelable() []*market.Order {
	out := make([]*market.Order, 0, len(b.pending))
	for _, o := range b.pending {
		if o.Remaining() > 0 {
			out = append(out, o)
		}
	}
	return out
}

// fill 对订单施加一次成交并生成 Trade。数量由调用方裁剪，
// 保证 filled + canceled 不超过委托量。
func (b *book) fill(o *market.Order, price, volume float64, ts int64, day string) Pair {
	b.tradeSeq++
	o.FilledVolume += volume
	if o.Remaining() <= 0 {
		o.Status = market.StatusAllFilled
	} else {
		o.Status = market.StatusPartFilled
	}
	trade := market.Trade{
		ID:           b.tradeSeq,
		OrderSysID:   o.SysID,
		InstrumentID: o.InstrumentID,
		Direction:    o.Direction,
		Offset:       o.Offset,
		Price:        price,
		Volume:       volume,
		TradeTime:    time.UnixMilli(ts),
		TradingDay:   day,
	}
	return Pair{Order: o, Trade: trade}
}

// sweep 移除已无剩余数量的挂单。
func (b *book) sweep() {
	kept := b.pending[:0]
	for _, o := range b.pending {
		if o.Remaining() > 0 {
			kept = append(kept, o)
		}
	}
	b.pending = kept
}

// fillVolume 计算单次成交量：不超过剩余量；记录带量时也不超过记录量。
func fillVolume(remaining, recordVolume float64) float64 {
	if recordVolume > 0 && recordVolume < remaining {
		return recordVolume
	}
	return remaining
}
