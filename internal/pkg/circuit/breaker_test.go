package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateClosed, b.StateNow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.StateNow())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenAndRecover(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.StateNow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.StateNow())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.StateNow())
	assert.False(t, b.Allow())
}
