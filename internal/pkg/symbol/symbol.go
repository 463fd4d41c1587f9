// Package symbol 统一合约代码形态：内部以 BASE/QUOTE 表示，
// 推送给交易所时再转为各家的写法。
package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 宽松解析合约代码：接受 BTC/USDT、BTCUSDT、btcusdt:perp 等写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	quoteCurrencies := []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}

	return Symbol{}
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
