package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPretty(t *testing.T) {
	out := Pretty(`{"b":1,"a":[1,2]}`)
	assert.Contains(t, out, "\n")
	assert.Contains(t, out, `"a"`)

	// 非法 JSON 原样返回
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Equal(t, "", Pretty("  "))
}
