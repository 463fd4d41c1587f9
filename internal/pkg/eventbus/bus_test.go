package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFireOrder(t *testing.T) {
	bus := New[int]("order")
	var seen []int
	bus.Register(func(v int) error {
		seen = append(seen, v*10)
		return nil
	})
	bus.Register(func(v int) error {
		seen = append(seen, v*100)
		return nil
	})

	require.NoError(t, bus.Fire(1))
	assert.Equal(t, []int{10, 100}, seen)
	assert.Equal(t, 2, bus.Len())
}

func TestBusRemove(t *testing.T) {
	bus := New[string]("rm")
	calls := 0
	h := bus.Register(func(string) error {
		calls++
		return nil
	})

	assert.True(t, bus.Remove(h))
	assert.False(t, bus.Remove(h))
	require.NoError(t, bus.Fire("x"))
	assert.Zero(t, calls)

	other := New[string]("other").Register(func(string) error { return nil })
	assert.False(t, bus.Remove(other))
}

func TestBusDebugPropagatesFirstError(t *testing.T) {
	bus := New[int]("dbg")
	errBoom := errors.New("boom")
	bus.Register(func(int) error { return errBoom })
	called := false
	bus.Register(func(int) error {
		called = true
		return nil
	})

	// 非 debug 模式吞掉错误，但仍然触发后续处理器。
	require.NoError(t, bus.Fire(1))
	assert.True(t, called)

	bus.SetDebug(true)
	err := bus.Fire(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestBusRecoversPanic(t *testing.T) {
	bus := New[int]("panic")
	bus.Register(func(int) error { panic("oops") })
	bus.SetDebug(true)

	err := bus.Fire(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}
