package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/calendar"
	"backsim/internal/market"
)

// fakeSource 以 (合约, 交易日) 为键返回预置 K 线。
type fakeSource struct {
	bars map[string]map[string][]market.Bar
}

func (s *fakeSource) Init(ctx context.Context, tradingDay string) error { return nil }

func (s *fakeSource) LoadBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, fromDay, toDay string) ([]market.Bar, error) {
	return s.bars[instrumentID][fromDay], nil
}

func (s *fakeSource) LoadNightBarSeries(ctx context.Context, exchange, instrumentID string, interval int, unit string, tradingDay string) ([]market.Bar, error) {
	return nil, nil
}

func (s *fakeSource) LoadTickSeries(ctx context.Context, exchange, instrumentID, tradingDay string) ([]market.Tick, error) {
	return nil, nil
}

func dayBar(id, day string, closeTime int64, close float64) market.Bar {
	return market.Bar{InstrumentID: id, TradingDay: day, CloseTime: closeTime, Close: close}
}

func TestSchedulerUnknownGranularity(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Granularity: "weekly"}, &fakeSource{}, calendar.NewWeekday(nil))
	assert.ErrorIs(t, err, ErrUnknownGranularity)
}

func TestSchedulerRequiresDriveInstrument(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{Granularity: GranularityMinute}, &fakeSource{}, calendar.NewWeekday(nil))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(context.Background(), "20240102", "20240102"), ErrNoDriveInstrument)
}

func TestSchedulerMultiInstrumentOrdering(t *testing.T) {
	day := "20240102"
	src := &fakeSource{bars: map[string]map[string][]market.Bar{
		"A": {day: {dayBar("A", day, 1000, 1), dayBar("A", day, 2000, 2), dayBar("A", day, 3000, 3)}},
		"B": {day: {dayBar("B", day, 1500, 10), dayBar("B", day, 2500, 20)}},
	}}
	s, err := NewScheduler(SchedulerConfig{
		DriveInstrument: "A",
		Granularity:     GranularityMinute,
		Debug:           true,
	}, src, calendar.NewWeekday(nil))
	require.NoError(t, err)
	s.Subscribe("B")
	assert.Equal(t, []string{"A", "B"}, s.Subscribed())

	var events []BarEvent
	s.RegisterBar(func(ev BarEvent) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, s.Run(context.Background(), day, day))
	require.Len(t, events, 3)

	// 驱动 1000：B 还没有行情
	assert.Empty(t, events[0].Others)
	// 驱动 2000：B@1500 被追平
	require.Len(t, events[1].Others, 1)
	assert.EqualValues(t, 1500, events[1].Others[0].RecordTime())
	// 驱动 3000：B@2500 被追平
	require.Len(t, events[2].Others, 1)
	assert.EqualValues(t, 2500, events[2].Others[0].RecordTime())

	assert.EqualValues(t, 3000, s.Now())
	assert.Equal(t, day, s.CurrentDay())
}

func TestSchedulerLifecycleAndGapDay(t *testing.T) {
	// 20240102 有数据，20240103 为缺口日
	src := &fakeSource{bars: map[string]map[string][]market.Bar{
		"A": {"20240102": {dayBar("A", "20240102", 1000, 1)}},
	}}
	s, err := NewScheduler(SchedulerConfig{
		DriveInstrument: "A",
		Granularity:     GranularityMinute,
		Debug:           true,
	}, src, calendar.NewWeekday(nil))
	require.NoError(t, err)

	var trace []string
	s.RegisterStart(func(span Span) error {
		trace = append(trace, "start:"+span.FromDay+"-"+span.ToDay)
		return nil
	})
	s.RegisterDayBegin(func(day string) error {
		trace = append(trace, "begin:"+day)
		return nil
	})
	s.RegisterBar(func(ev BarEvent) error {
		trace = append(trace, "bar:"+ev.Drive.TradingDay)
		return nil
	})
	s.RegisterDayEnd(func(day string) error {
		trace = append(trace, "end:"+day)
		return nil
	})
	s.RegisterEnd(func(span Span) error {
		trace = append(trace, "done")
		return nil
	})

	require.NoError(t, s.Run(context.Background(), "20240102", "20240103"))
	assert.Equal(t, []string{
		"start:20240102-20240103",
		"begin:20240102", "bar:20240102", "end:20240102",
		"begin:20240103", "end:20240103",
		"done",
	}, trace)
}

func TestSchedulerRemoveHandler(t *testing.T) {
	src := &fakeSource{bars: map[string]map[string][]market.Bar{
		"A": {"20240102": {dayBar("A", "20240102", 1000, 1)}},
	}}
	s, err := NewScheduler(SchedulerConfig{
		DriveInstrument: "A",
		Granularity:     GranularityMinute,
	}, src, calendar.NewWeekday(nil))
	require.NoError(t, err)

	calls := 0
	h := s.RegisterBar(func(BarEvent) error {
		calls++
		return nil
	})
	require.True(t, s.Remove(h))
	require.NoError(t, s.Run(context.Background(), "20240102", "20240102"))
	assert.Zero(t, calls)
}
