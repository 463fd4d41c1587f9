package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTradingDay(t *testing.T) {
	cal := NewWeekday([]string{"20240101"})

	ok, err := cal.IsTradingDay("20240101") // 周一但是节假日
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cal.IsTradingDay("20240102") // 周二
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cal.IsTradingDay("20240106") // 周六
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cal.IsTradingDay("2024-01-02")
	assert.Error(t, err)
}

func TestTradingDays(t *testing.T) {
	cal := NewWeekday([]string{"20240101"})

	days, err := cal.TradingDays("20240101", "20240107")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102", "20240103", "20240104", "20240105"}, days)

	_, err = cal.TradingDays("20240107", "20240101")
	assert.Error(t, err)
}

func TestFirstAndLastTradingDay(t *testing.T) {
	cal := NewWeekday([]string{"20240101"})

	first, err := cal.FirstTradingDay("20240115")
	require.NoError(t, err)
	assert.Equal(t, "20240102", first)

	last, err := cal.LastTradingDay("20240115")
	require.NoError(t, err)
	assert.Equal(t, "20240131", last) // 周三
}
