package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResultStoreRunLifecycle(t *testing.T) {
	s := newTestResultStore(t)
	ctx := context.Background()

	run := Run{
		ID:              "run-1",
		Product:         "p",
		Strategy:        "sma_cross",
		DriveInstrument: "BTCUSDT",
		Status:          RunStatusPending,
		FromDay:         "20240102",
		ToDay:           "20240131",
		Granularity:     "minute",
		MatchMode:       "last_price",
		InitialCash:     10000,
		Config: RunConfig{
			DriveInstrument: "BTCUSDT",
			FromDay:         "20240102",
			ToDay:           "20240131",
			Params:          map[string]any{"fast": 5.0, "slow": 20.0},
		},
	}
	require.NoError(t, s.InsertRun(ctx, run))

	require.NoError(t, s.UpdateRunStatus(ctx, "run-1", RunStatusRunning, ""))
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.True(t, got.CompletedAt.IsZero())
	assert.Equal(t, "BTCUSDT", got.Config.DriveInstrument)
	assert.Equal(t, 5.0, got.Config.Params["fast"])

	stats := RunStats{
		InitialCash: 10000,
		FinalEquity: 10010,
		Profit:      10,
		ReturnPct:   0.1,
		Orders:      1,
		Trades:      1,
		FinishedAt:  time.Now(),
	}
	require.NoError(t, s.UpdateRunSummary(ctx, "run-1", RunStatusDone, stats, "完成"))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 10010.0, got.FinalEquity)
	assert.Equal(t, 10.0, got.Profit)
	assert.Equal(t, 1, got.Orders)
	assert.Equal(t, "完成", got.Message)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Equal(t, 10010.0, got.Stats.FinalEquity)
}

func TestResultStoreListRunsOrder(t *testing.T) {
	s := newTestResultStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, Run{ID: "run-a", Status: RunStatusPending}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.InsertRun(ctx, Run{ID: "run-b", Status: RunStatusPending}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "run-a", runs[1].ID)
}

func TestResultStoreOrdersRoundTrip(t *testing.T) {
	s := newTestResultStore(t)
	ctx := context.Background()

	orders := []*market.Order{
		{
			SysID:        2,
			InstrumentID: "BTCUSDT",
			Direction:    market.DirectionBuy,
			Offset:       market.OffsetOpen,
			Price:        100,
			Volume:       2,
			FilledVolume: 2,
			Status:       market.StatusAllFilled,
			TradingDay:   "20240102",
			OrderTime:    time.UnixMilli(1000),
		},
		{
			SysID:        1,
			InstrumentID: "BTCUSDT",
			Direction:    market.DirectionSell,
			Offset:       market.OffsetClose,
			Price:        90,
			Volume:       1,
			Status:       market.StatusRejected,
			Reason: market.Reason{
				Code:    market.ReasonInsufficientPosition,
				Message: "无持仓",
			},
		},
	}
	require.NoError(t, s.SaveOrders(ctx, "run-1", orders))

	got, err := s.ListOrders(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// sys_id 升序
	assert.EqualValues(t, 1, got[0].SysID)
	assert.Equal(t, market.StatusRejected, got[0].Status)
	assert.Equal(t, market.ReasonInsufficientPosition, got[0].Reason.Code)
	assert.EqualValues(t, 2, got[1].SysID)
	assert.Equal(t, 2.0, got[1].FilledVolume)
	assert.True(t, got[1].CancelTime.IsZero())
}

func TestResultStoreTradesAndSnapshots(t *testing.T) {
	s := newTestResultStore(t)
	ctx := context.Background()

	trades := []market.Trade{
		{ID: 1, OrderSysID: 1, InstrumentID: "BTCUSDT", Direction: market.DirectionBuy,
			Offset: market.OffsetOpen, Price: 100, Volume: 2,
			TradingDay: "20240102", TradeTime: time.UnixMilli(1000)},
	}
	require.NoError(t, s.SaveTrades(ctx, "run-1", trades))

	gotTrades, err := s.ListTrades(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, gotTrades, 1)
	assert.Equal(t, 100.0, gotTrades[0].Price)
	assert.EqualValues(t, 1000, gotTrades[0].TradeTime.UnixMilli())

	snaps := []Snapshot{
		{RunID: "run-1", TS: 2000, TradingDay: "20240102", Equity: 10010, Cash: 9989, Margin: 11},
		{RunID: "run-1", TS: 1000, TradingDay: "20240102", Equity: 10000, Cash: 10000},
	}
	require.NoError(t, s.SaveSnapshots(ctx, "run-1", snaps))

	gotSnaps, err := s.ListSnapshots(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, gotSnaps, 2)
	// ts 升序
	assert.EqualValues(t, 1000, gotSnaps[0].TS)
	assert.EqualValues(t, 2000, gotSnaps[1].TS)

	// 空集写入是 no-op
	require.NoError(t, s.SaveTrades(ctx, "run-1", nil))
	require.NoError(t, s.SaveSnapshots(ctx, "run-1", nil))
}

func TestResultStoreEmptyRoot(t *testing.T) {
	_, err := NewResultStore("  ")
	assert.Error(t, err)
}
