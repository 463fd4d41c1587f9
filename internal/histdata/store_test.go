package histdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mkBar(day string, closeTime int64, close float64) market.Bar {
	return market.Bar{
		TradingDay: day,
		OpenTime:   closeTime - 60_000,
		CloseTime:  closeTime,
		Open:       close - 1,
		High:       close + 1,
		Low:        close - 2,
		Close:      close,
		Volume:     10,
	}
}

func TestInsertBarsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.InsertBars(ctx, "BTCUSDT", "1m", SessionDay, []market.Bar{
		mkBar("20240102", 1000, 100),
		mkBar("20240102", 2000, 101),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 同一 close_time 重写：覆盖而不是追加
	n, err = s.InsertBars(ctx, "BTCUSDT", "1m", SessionDay, []market.Bar{
		mkBar("20240102", 2000, 200),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bars, err := s.BarsByDay(ctx, "BTCUSDT", "1m", "20240102", SessionDay)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 200.0, bars[1].Close)
	assert.Equal(t, "BTCUSDT", bars[0].InstrumentID)
	assert.Equal(t, "1m", bars[0].Interval)
}

func TestBarsByDaySessionFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "BTCUSDT", "1m", SessionDay, []market.Bar{mkBar("20240102", 1000, 100)})
	require.NoError(t, err)
	_, err = s.InsertBars(ctx, "BTCUSDT", "1m", SessionNight, []market.Bar{mkBar("20240102", 2000, 101)})
	require.NoError(t, err)

	day, err := s.BarsByDay(ctx, "BTCUSDT", "1m", "20240102", SessionDay)
	require.NoError(t, err)
	assert.Len(t, day, 1)

	all, err := s.BarsByDay(ctx, "BTCUSDT", "1m", "20240102", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRangeBars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "BTCUSDT", "1h", SessionDay, []market.Bar{
		mkBar("20240102", 1000, 100),
		mkBar("20240102", 2000, 101),
		mkBar("20240103", 3000, 102),
	})
	require.NoError(t, err)

	bars, err := s.RangeBars(ctx, "BTCUSDT", "1h", 1500, 3000)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.EqualValues(t, 2000, bars[0].CloseTime)
	assert.EqualValues(t, 3000, bars[1].CloseTime)
}

func TestInsertTicksSameMillisecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticks := []market.Tick{
		{TradingDay: "20240102", Time: 1000, Last: 100, Volume: 1},
		{TradingDay: "20240102", Time: 1000, Last: 101, Volume: 2},
		{TradingDay: "20240102", Time: 2000, Last: 102, Volume: 1},
	}
	n, err := s.InsertTicks(ctx, "BTCUSDT", ticks)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.TicksByDay(ctx, "BTCUSDT", "20240102")
	require.NoError(t, err)
	require.Len(t, got, 3)
	// 同毫秒保持写入顺序
	assert.Equal(t, 100.0, got[0].Last)
	assert.Equal(t, 101.0, got[1].Last)
	assert.Equal(t, 102.0, got[2].Last)
}

func TestManifest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "BTCUSDT", "1m", SessionDay, []market.Bar{
		mkBar("20240102", 1000, 100),
		mkBar("20240103", 5000, 101),
	})
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.Rows)
	assert.EqualValues(t, 1000, m.MinTime)
	assert.EqualValues(t, 5000, m.MaxTime)
	assert.Equal(t, "1m", m.Interval)
	assert.NotEmpty(t, m.Path)
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBars(ctx, "BTCUSDT", "1m", SessionDay, []market.Bar{
		mkBar("20240102", 1000, 100),
		mkBar("20240104", 2000, 101),
	})
	require.NoError(t, err)

	report, err := s.CheckIntegrity(ctx, "BTCUSDT", "1m", []string{"20240102", "20240103", "20240104"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Present)
	assert.Equal(t, []string{"20240103"}, report.MissingDays)
	assert.False(t, report.Complete())

	full, err := s.CheckIntegrity(ctx, "BTCUSDT", "1m", []string{"20240102", "20240104"})
	require.NoError(t, err)
	assert.True(t, full.Complete())
}

func TestIntervalKey(t *testing.T) {
	cases := []struct {
		interval int
		unit     string
		want     string
	}{
		{1, "minute", "1m"},
		{5, "minute", "5m"},
		{1, "hour", "1h"},
		{1, "day", "1d"},
	}
	for _, c := range cases {
		got, err := IntervalKey(c.interval, c.unit)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := IntervalKey(1, "week")
	assert.Error(t, err)
}

func TestEmptyInsertIsNoop(t *testing.T) {
	s := newTestStore(t)
	n, err := s.InsertBars(context.Background(), "BTCUSDT", "1m", SessionDay, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
