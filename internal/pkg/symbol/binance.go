package symbol

import "strings"

// ToBinance 把合约代码转成币安接口要求的无分隔大写形态。
func ToBinance(instrumentID string) string {
	if sym := Parse(instrumentID); sym.Base != "" {
		return sym.Binance()
	}
	s := strings.ToUpper(strings.TrimSpace(instrumentID))
	return strings.ReplaceAll(s, "/", "")
}
