package match

import "backsim/internal/market"

// LastPriceMachine 按最新价撮合：最新成交价穿越订单限价即成交
// （可成交价语义），成交价取订单价与行情价中对挂单更优的一侧。
type LastPriceMachine struct {
	book
}

// NewLastPriceMachine 创建最新价撮合策略。
func NewLastPriceMachine() *LastPriceMachine {
	return &LastPriceMachine{}
}

func (m *LastPriceMachine) Enter(o *market.Order) { m.enter(o) }

func (m *LastPriceMachine) Cancel(o *market.Order) (bool, string) { return m.cancel(o) }

func (m *LastPriceMachine) CancelableOrders() []*market.Order { return m.cancelable() }

func (m *LastPriceMachine) MatchByBar(bar market.Bar) []Pair {
	return m.match(bar.InstrumentID, bar.Close, bar.Volume, bar.CloseTime, bar.TradingDay)
}

func (m *LastPriceMachine) MatchByTick(tick market.Tick) []Pair {
	return m.match(tick.InstrumentID, tick.Last, tick.Volume, tick.Time, tick.TradingDay)
}

func (m *LastPriceMachine) match(instrumentID string, last, volume float64, ts int64, day string) []Pair {
	if last <= 0 {
		return nil
	}
	var pairs []Pair
	for _, o := range m.pending {
		if o.InstrumentID != instrumentID || o.Remaining() <= 0 {
			continue
		}
		var price float64
		switch o.Direction {
		case market.DirectionBuy:
			if last > o.Price {
				continue
			}
			price = min(o.Price, last)
		case market.DirectionSell:
			if last < o.Price {
				continue
			}
			price = max(o.Price, last)
		default:
			continue
		}
		vol := fillVolume(o.Remaining(), volume)
		if vol <= 0 {
			continue
		}
		pairs = append(pairs, m.fill(o, price, vol, ts, day))
	}
	m.sweep()
	return pairs
}
