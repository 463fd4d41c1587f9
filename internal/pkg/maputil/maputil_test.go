package maputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedGetters(t *testing.T) {
	params := map[string]any{
		"fast":   float64(5), // JSON 反序列化后的数字形态
		"slow":   "20",
		"volume": 1.5,
		"name":   " sma ",
	}

	assert.Equal(t, 5, Int(params, "fast"))
	assert.Equal(t, 20, Int(params, "slow"))
	assert.Equal(t, 1.5, Float(params, "volume"))
	assert.Equal(t, "sma", String(params, "name"))

	assert.Zero(t, Int(params, "missing"))
	assert.Zero(t, Float(nil, "volume"))
	assert.Empty(t, String(nil, "name"))
}

func TestMerge(t *testing.T) {
	base := map[string]any{"fast": 5, "slow": 20}
	override := map[string]any{"slow": 30, "volume": 2}

	merged := Merge(base, override)
	assert.Equal(t, 5, Int(merged, "fast"))
	assert.Equal(t, 30, Int(merged, "slow"))
	assert.Equal(t, 2, Int(merged, "volume"))

	// 入参不被修改
	assert.Equal(t, 20, Int(base, "slow"))
	assert.Nil(t, Merge(nil, nil))
}
