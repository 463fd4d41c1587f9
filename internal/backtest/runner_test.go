package backtest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/calendar"
	"backsim/internal/market"
	"backsim/internal/replay"
	"backsim/internal/strategy"
)

// fakeSource 以预置 K 线充当数据源，按（合约，交易日）返回。
type fakeSource struct {
	bars map[string]map[string][]market.Bar
}

func (f *fakeSource) Init(ctx context.Context, tradingDay string) error { return nil }

func (f *fakeSource) LoadBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, fromDay, toDay string) ([]market.Bar, error) {
	return f.bars[instrumentID][fromDay], nil
}

func (f *fakeSource) LoadNightBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, tradingDay string) ([]market.Bar, error) {
	return nil, nil
}

func (f *fakeSource) LoadTickSeries(ctx context.Context, exchange, instrumentID, tradingDay string) ([]market.Tick, error) {
	return nil, nil
}

// chaseStrategy 在首根 K 线以高于收盘价的限价买开一手，之后不再动作。
type chaseStrategy struct {
	strategy.Base
	instrumentID string
	ordered      bool
}

func (s *chaseStrategy) Name() string { return "chase" }

func (s *chaseStrategy) OnBar(ctx *strategy.Context, ev replay.BarEvent) error {
	if s.ordered {
		return nil
	}
	s.ordered = true
	_, err := ctx.OpenLong(s.instrumentID, ev.Drive.Close+10, 1)
	return err
}

type factoryFunc func(spec strategy.Spec) (strategy.Strategy, error)

func (f factoryFunc) NewStrategy(spec strategy.Spec) (strategy.Strategy, error) { return f(spec) }

func runnerInstruments() map[string]market.Instrument {
	return map[string]market.Instrument{
		"BTC": {
			ID:              "BTC",
			Exchange:        "BINANCE",
			VolumeMultiple:  decimal.NewFromInt(1),
			LongMarginRate:  decimal.NewFromFloat(0.1),
			ShortMarginRate: decimal.NewFromFloat(0.1),
		},
	}
}

func runnerBar(day string, ts int64, close float64) market.Bar {
	return market.Bar{
		InstrumentID: "BTC",
		TradingDay:   day,
		CloseTime:    ts,
		Close:        close,
	}
}

func newChaseRunner(t *testing.T) *Runner {
	t.Helper()
	day := "20240102"
	src := &fakeSource{bars: map[string]map[string][]market.Bar{
		"BTC": {day: {
			runnerBar(day, 1000, 100),
			runnerBar(day, 2000, 110),
			runnerBar(day, 3000, 120),
		}},
	}}
	r, err := NewRunner(RunnerConfig{
		Source:      src,
		Calendar:    calendar.NewWeekday(nil),
		Instruments: runnerInstruments(),
		Factory: factoryFunc(func(spec strategy.Spec) (strategy.Strategy, error) {
			return &chaseStrategy{instrumentID: spec.InstrumentID}, nil
		}),
		Debug: true,
	})
	require.NoError(t, err)
	return r
}

func TestRunnerExecute(t *testing.T) {
	r := newChaseRunner(t)

	res, err := r.Execute(context.Background(), "run-1", RunConfig{
		Exchange:        "BINANCE",
		DriveInstrument: "BTC",
		FromDay:         "20240102",
		ToDay:           "20240102",
		InitialCash:     10000,
	})
	require.NoError(t, err)

	// 首根收盘 100 挂 110 买开，第二根收盘 110 成交；
	// 第三根收盘 120 时浮盈 (120-110)*1*1 = 10
	st := res.Stats
	assert.Equal(t, 1, st.Orders)
	assert.Equal(t, 1, st.Trades)
	assert.Zero(t, st.Rejected)
	assert.Equal(t, 1, st.TradingDays)
	assert.InDelta(t, 10010, st.FinalEquity, 1e-9)
	assert.InDelta(t, 10, st.Profit, 1e-9)
	assert.InDelta(t, 0.1, st.ReturnPct, 1e-9)
	assert.Zero(t, st.MaxDrawdownPct)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, market.StatusAllFilled, res.Orders[0].Status)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 110.0, res.Trades[0].Price)

	// 每根 K 线一个采样点，收盘再补一个
	require.Len(t, res.Snapshots, 4)
	assert.InDelta(t, 10000, res.Snapshots[0].Equity, 1e-9)
	assert.InDelta(t, 10010, res.Snapshots[2].Equity, 1e-9)
	assert.Equal(t, "day_end", res.Snapshots[3].Note)
	assert.Equal(t, "run-1", res.Snapshots[0].RunID)
}

func TestRunnerExecuteRejectsWhenBroke(t *testing.T) {
	r := newChaseRunner(t)

	res, err := r.Execute(context.Background(), "run-2", RunConfig{
		Exchange:        "BINANCE",
		DriveInstrument: "BTC",
		FromDay:         "20240102",
		ToDay:           "20240102",
		InitialCash:     1,
	})
	require.NoError(t, err)

	// 需要保证金 110*1*1*0.1 = 11 > 可用 1
	assert.Equal(t, 1, res.Stats.Orders)
	assert.Equal(t, 1, res.Stats.Rejected)
	assert.Zero(t, res.Stats.Trades)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, market.StatusRejected, res.Orders[0].Status)
	assert.Equal(t, market.ReasonInsufficientFunds, res.Orders[0].Reason.Code)
}

func TestRunnerExecuteRequiresDrive(t *testing.T) {
	r := newChaseRunner(t)
	_, err := r.Execute(context.Background(), "run-3", RunConfig{
		FromDay: "20240102",
		ToDay:   "20240102",
	})
	assert.ErrorIs(t, err, replay.ErrNoDriveInstrument)
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerConfig{Source: &fakeSource{}, Calendar: calendar.NewWeekday(nil)})
	assert.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(RunConfig{DriveInstrument: "BTC", Subscribed: []string{"ETH"}})
	assert.Equal(t, "default", cfg.Product)
	assert.Equal(t, "default", cfg.Strategy)
	assert.Equal(t, "minute", cfg.Granularity)
	assert.Equal(t, "last_price", cfg.MatchMode)
	assert.Equal(t, 1_000_000.0, cfg.InitialCash)
	// 驱动合约自动补进订阅表首位
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Subscribed)
}
