package match

import "backsim/internal/market"

// OrderPriceMachine 模拟被动挂单：行情区间覆盖委托价时即按
// 委托价本身成交。同价位先到先得（系统编号升序），成交量
// 受记录量约束，规则完全确定。
type OrderPriceMachine struct {
	book
}

// NewOrderPriceMachine 创建委托价撮合策略。
func NewOrderPriceMachine() *OrderPriceMachine {
	return &OrderPriceMachine{}
}

func (m *OrderPriceMachine) Enter(o *market.Order) { m.enter(o) }

func (m *OrderPriceMachine) Cancel(o *market.Order) (bool, string) { return m.cancel(o) }

func (m *OrderPriceMachine) CancelableOrders() []*market.Order { return m.cancelable() }

func (m *OrderPriceMachine) MatchByBar(bar market.Bar) []Pair {
	return m.match(bar.InstrumentID, bar.Low, bar.High, bar.Volume, bar.CloseTime, bar.TradingDay)
}

func (m *OrderPriceMachine) MatchByTick(tick market.Tick) []Pair {
	// tick 没有区间，用最新价同时作为上下界。
	return m.match(tick.InstrumentID, tick.Last, tick.Last, tick.Volume, tick.Time, tick.TradingDay)
}

func (m *OrderPriceMachine) match(instrumentID string, low, high, volume float64, ts int64, day string) []Pair {
	if high <= 0 {
		return nil
	}
	var pairs []Pair
	for _, o := range m.pending {
		if o.InstrumentID != instrumentID || o.Remaining() <= 0 {
			continue
		}
		switch o.Direction {
		case market.DirectionBuy:
			if low > o.Price {
				continue
			}
		case market.DirectionSell:
			if high < o.Price {
				continue
			}
		default:
			continue
		}
		vol := fillVolume(o.Remaining(), volume)
		if vol <= 0 {
			continue
		}
		pairs = append(pairs, m.fill(o, o.Price, vol, ts, day))
	}
	m.sweep()
	return pairs
}
