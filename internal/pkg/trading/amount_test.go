package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseVolume(t *testing.T) {
	assert.Equal(t, 5.0, CloseVolume(10, 0.5))
	assert.Equal(t, 10.0, CloseVolume(10, 1))
	// 比例超过 1 时不超过当前持仓
	assert.Equal(t, 10.0, CloseVolume(10, 1.5))
	assert.Zero(t, CloseVolume(0, 0.5))
	assert.Zero(t, CloseVolume(10, 0))
}
