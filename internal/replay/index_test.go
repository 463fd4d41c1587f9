package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

func bar(id string, closeTime int64, close float64) market.Bar {
	return market.Bar{
		InstrumentID: id,
		TradingDay:   "20240102",
		CloseTime:    closeTime,
		Close:        close,
	}
}

func TestIndexAddRecordsSortsByTime(t *testing.T) {
	idx := NewIndex("BTCUSDT")
	recs := []market.Record{
		bar("BTCUSDT", 3000, 3),
		bar("BTCUSDT", 1000, 1),
		bar("BTCUSDT", 2000, 2),
	}
	require.NoError(t, idx.AddRecords("20240102", recs))
	idx.SetCurrentDay("20240102")

	w := idx.CurrentWindow()
	require.NotNil(t, w)
	assert.Equal(t, 3, w.Len())

	var times []int64
	for {
		rec, ok := w.next()
		if !ok {
			break
		}
		times = append(times, rec.RecordTime())
	}
	assert.Equal(t, []int64{1000, 2000, 3000}, times)
	// 游标只进不退：消费完后再取返回 false
	_, ok := w.next()
	assert.False(t, ok)
	assert.Zero(t, w.Remaining())
}

func TestIndexDuplicateDay(t *testing.T) {
	idx := NewIndex("BTCUSDT")
	require.NoError(t, idx.AddRecords("20240102", []market.Record{bar("BTCUSDT", 1000, 1)}))

	err := idx.AddRecords("20240102", []market.Record{bar("BTCUSDT", 2000, 2)})
	assert.ErrorIs(t, err, ErrDuplicateDay)

	// 空窗口允许重新装填
	require.NoError(t, idx.AddRecords("20240103", nil))
	require.NoError(t, idx.AddRecords("20240103", []market.Record{bar("BTCUSDT", 3000, 3)}))

	// Clear 后同一天可重新装填
	idx.Clear("20240102")
	require.NoError(t, idx.AddRecords("20240102", []market.Record{bar("BTCUSDT", 1500, 1.5)}))
}

func TestIndexAdvanceTo(t *testing.T) {
	idx := NewIndex("ETHUSDT")
	require.NoError(t, idx.AddRecords("20240102", []market.Record{
		bar("ETHUSDT", 1500, 1),
		bar("ETHUSDT", 2500, 2),
	}))
	idx.SetCurrentDay("20240102")

	ok, recs := idx.AdvanceTo(1000)
	assert.False(t, ok)
	assert.Empty(t, recs)

	ok, recs = idx.AdvanceTo(2000)
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 1500, recs[0].RecordTime())

	// 同一时刻不重投
	ok, _ = idx.AdvanceTo(2000)
	assert.False(t, ok)

	ok, recs = idx.AdvanceTo(3000)
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2500, recs[0].RecordTime())
}

func TestIndexMissingDay(t *testing.T) {
	idx := NewIndex("BTCUSDT")
	idx.SetCurrentDay("20240105")
	assert.Nil(t, idx.CurrentWindow())
	ok, recs := idx.AdvanceTo(9999)
	assert.False(t, ok)
	assert.Nil(t, recs)
}
