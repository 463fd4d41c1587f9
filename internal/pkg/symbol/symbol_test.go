package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("BTC/USDT"))
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("btcusdt"))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, Parse("ETH/USDT:USDT"))
	assert.Equal(t, Symbol{}, Parse(""))
	assert.Equal(t, Symbol{}, Parse("XYZ"))
}

func TestToBinance(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToBinance("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", ToBinance("btcusdt"))
	// 解析不出报价币种时退化为去分隔符的大写
	assert.Equal(t, "XYZ", ToBinance("xyz"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("ETHUSDT"))
	assert.False(t, IsValid("???"))
}
