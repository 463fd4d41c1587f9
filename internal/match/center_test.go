package match

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/account"
	"backsim/internal/market"
)

func testInstruments() map[string]market.Instrument {
	return map[string]market.Instrument{
		"BTCUSDT": {
			ID:              "BTCUSDT",
			Exchange:        "BINANCE",
			VolumeMultiple:  decimal.NewFromInt(10),
			LongMarginRate:  decimal.NewFromFloat(0.1),
			ShortMarginRate: decimal.NewFromFloat(0.1),
		},
	}
}

func newTestCenter(t *testing.T, mode Mode, cash float64) (*Center, *account.Cache) {
	t.Helper()
	acct := account.NewCache("p", "s", decimal.NewFromFloat(cash), testInstruments())
	c, err := NewCenter(mode, acct)
	require.NoError(t, err)
	c.SetDebug(true)
	// 成交驱动资金持仓更新
	c.RegisterTrade(func(tr market.Trade) error { return acct.ApplyTrade(tr) })
	return c, acct
}

func buyOpen(price, volume float64) *market.Order {
	return &market.Order{
		Product:      "p",
		Strategy:     "s",
		InstrumentID: "BTCUSDT",
		Direction:    market.DirectionBuy,
		Offset:       market.OffsetOpen,
		Price:        price,
		Volume:       volume,
	}
}

func testBar(close, low, high, volume float64, ts int64) market.Bar {
	return market.Bar{
		InstrumentID: "BTCUSDT",
		TradingDay:   "20240102",
		CloseTime:    ts,
		Close:        close,
		Low:          low,
		High:         high,
		Volume:       volume,
	}
}

func TestCenterUnknownMode(t *testing.T) {
	acct := account.NewCache("p", "s", decimal.NewFromInt(1000), nil)
	_, err := NewCenter("midpoint", acct)
	assert.ErrorIs(t, err, ErrUnknownMatchMode)
}

func TestLastPriceBuyFillsAtBetterPrice(t *testing.T) {
	c, acct := newTestCenter(t, ModeLastPrice, 1_000_000)

	o := buyOpen(100, 2)
	require.NoError(t, c.Enter(o))
	assert.Equal(t, market.StatusSubmitted, o.Status)
	assert.EqualValues(t, 1, o.SysID)

	// 最新价高于限价：不成交
	require.NoError(t, c.MatchByBar(testBar(101, 0, 0, 5, 1000)))
	assert.Equal(t, market.StatusSubmitted, o.Status)

	// 最新价 99 <= 限价 100：按更优的 99 成交
	var trades []market.Trade
	c.RegisterTrade(func(tr market.Trade) error {
		trades = append(trades, tr)
		return nil
	})
	require.NoError(t, c.MatchByBar(testBar(99, 0, 0, 5, 2000)))
	assert.Equal(t, market.StatusAllFilled, o.Status)
	require.Len(t, trades, 1)
	assert.Equal(t, 99.0, trades[0].Price)
	assert.Equal(t, 2.0, trades[0].Volume)

	// 保证金 = 99 * 2 * 10 * 0.1
	pos, ok := acct.Position("p", "s", "BTCUSDT", market.PositionLong)
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Volume)
	assert.Equal(t, 99.0, pos.OpenPrice)
	assert.True(t, decimal.NewFromFloat(198).Equal(pos.Margin))
}

func TestOpenRejectedOnInsufficientFunds(t *testing.T) {
	// 需要保证金 100*2*10*0.1=200 > 可用 100
	c, _ := newTestCenter(t, ModeLastPrice, 100)

	var rejected []*market.Order
	c.RegisterRejected(func(o *market.Order) error {
		rejected = append(rejected, o)
		return nil
	})

	o := buyOpen(100, 2)
	require.NoError(t, c.Enter(o))
	assert.Equal(t, market.StatusRejected, o.Status)
	assert.Equal(t, market.ReasonInsufficientFunds, o.Reason.Code)
	require.Len(t, rejected, 1)
	// 被拒订单不进入撮合：后续行情不会产生成交
	assert.Empty(t, c.CancelableOrders())
	require.NoError(t, c.MatchByBar(testBar(99, 0, 0, 5, 1000)))
	assert.Equal(t, market.StatusRejected, o.Status)
}

func TestCloseRejectedWithoutPosition(t *testing.T) {
	c, _ := newTestCenter(t, ModeLastPrice, 1_000_000)

	o := &market.Order{
		Product:      "p",
		Strategy:     "s",
		InstrumentID: "BTCUSDT",
		Direction:    market.DirectionSell,
		Offset:       market.OffsetClose,
		Price:        100,
		Volume:       1,
	}
	require.NoError(t, c.Enter(o))
	assert.Equal(t, market.StatusRejected, o.Status)
	assert.Equal(t, market.ReasonInsufficientPosition, o.Reason.Code)
}

func TestPartialFillThenCancel(t *testing.T) {
	c, _ := newTestCenter(t, ModeLastPrice, 1_000_000)

	o := buyOpen(100, 10)
	require.NoError(t, c.Enter(o))

	// 行情只有 4 手量：部分成交
	require.NoError(t, c.MatchByBar(testBar(100, 0, 0, 4, 1000)))
	assert.Equal(t, market.StatusPartFilled, o.Status)
	assert.Equal(t, 4.0, o.FilledVolume)
	assert.Equal(t, 6.0, o.Remaining())

	var canceled []*market.Order
	c.RegisterCanceled(func(ord *market.Order) error {
		canceled = append(canceled, ord)
		return nil
	})
	ok, err := c.CancelOrder(o)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, market.StatusCanceled, o.Status)
	assert.Equal(t, 6.0, o.CanceledVolume)
	require.Len(t, canceled, 1)

	// 已撤订单不再成交
	require.NoError(t, c.MatchByBar(testBar(100, 0, 0, 100, 2000)))
	assert.Equal(t, 4.0, o.FilledVolume)
}

func TestCancelTerminalOrderFails(t *testing.T) {
	c, _ := newTestCenter(t, ModeLastPrice, 1_000_000)

	var failures []CancelFailure
	c.RegisterCancelFailed(func(f CancelFailure) error {
		failures = append(failures, f)
		return nil
	})

	o := buyOpen(100, 1)
	require.NoError(t, c.Enter(o))
	require.NoError(t, c.MatchByBar(testBar(100, 0, 0, 5, 1000)))
	require.Equal(t, market.StatusAllFilled, o.Status)

	ok, err := c.CancelOrder(o)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, market.StatusAllFilled, o.Status)
	require.Len(t, failures, 1)
}

func TestOrderPriceFillsAtOrderPrice(t *testing.T) {
	c, _ := newTestCenter(t, ModeOrderPrice, 1_000_000)

	var trades []market.Trade
	c.RegisterTrade(func(tr market.Trade) error {
		trades = append(trades, tr)
		return nil
	})

	o := buyOpen(95, 1)
	require.NoError(t, c.Enter(o))

	// 区间未覆盖限价：不成交
	require.NoError(t, c.MatchByBar(testBar(100, 96, 101, 5, 1000)))
	assert.Equal(t, market.StatusSubmitted, o.Status)

	// Low 94 <= 95：按委托价成交
	require.NoError(t, c.MatchByBar(testBar(96, 94, 101, 5, 2000)))
	assert.Equal(t, market.StatusAllFilled, o.Status)
	require.Len(t, trades, 1)
	assert.Equal(t, 95.0, trades[0].Price)
}

func TestOrderPriceVolumeClipped(t *testing.T) {
	c, _ := newTestCenter(t, ModeOrderPrice, 1_000_000)

	o := buyOpen(95, 5)
	require.NoError(t, c.Enter(o))

	// 记录量 3 < 剩余 5：本次只吃 3
	require.NoError(t, c.MatchByBar(testBar(96, 94, 101, 3, 1000)))
	assert.Equal(t, market.StatusPartFilled, o.Status)
	assert.Equal(t, 3.0, o.FilledVolume)

	// 记录量 0 视为不限量：剩余全部成交
	require.NoError(t, c.MatchByBar(testBar(96, 94, 101, 0, 2000)))
	assert.Equal(t, market.StatusAllFilled, o.Status)
	assert.Equal(t, 5.0, o.FilledVolume)
}

func TestCenterClockAdvances(t *testing.T) {
	c, _ := newTestCenter(t, ModeLastPrice, 1_000_000)
	assert.Zero(t, c.Now())

	require.NoError(t, c.MatchByBar(testBar(100, 0, 0, 5, 1700000000000)))
	assert.EqualValues(t, 1700000000000, c.Now())
	assert.Equal(t, "20240102", c.TradingDay())
}
