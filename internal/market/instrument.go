package market

import "github.com/shopspring/decimal"

// Instrument 合约静态信息，保证金率区分多空方向。
type Instrument struct {
	ID              string          `json:"id" yaml:"id"`
	Exchange        string          `json:"exchange" yaml:"exchange"`
	VolumeMultiple  decimal.Decimal `json:"volume_multiple" yaml:"volume_multiple"`
	LongMarginRate  decimal.Decimal `json:"long_margin_rate" yaml:"long_margin_rate"`
	ShortMarginRate decimal.Decimal `json:"short_margin_rate" yaml:"short_margin_rate"`
	PriceTick       float64         `json:"price_tick" yaml:"price_tick"`
	NightSession    bool            `json:"night_session" yaml:"night_session"`
}

// MarginRate 按开仓方向取保证金率：买开用多头费率，卖开用空头费率。
func (i Instrument) MarginRate(dir Direction) decimal.Decimal {
	if dir == DirectionBuy {
		return i.LongMarginRate
	}
	return i.ShortMarginRate
}

// PositionDirection 持仓方向。
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"
	PositionShort PositionDirection = "short"
)

// OffsetPositionDirection 返回平仓单对应的持仓方向：
// 买平冲抵空头持仓，卖平冲抵多头持仓。
func OffsetPositionDirection(dir Direction) PositionDirection {
	if dir == DirectionBuy {
		return PositionShort
	}
	return PositionLong
}

// Position 表示一个（产品、策略、合约、方向）维度的持仓。
type Position struct {
	Product      string            `json:"product"`
	Strategy     string            `json:"strategy"`
	InstrumentID string            `json:"instrument_id"`
	Direction    PositionDirection `json:"direction"`
	Volume       float64           `json:"volume"`
	OpenPrice    float64           `json:"open_price"`
	Margin       decimal.Decimal   `json:"margin"`
}

// PositionKey 持仓的唯一键。
type PositionKey struct {
	Product      string
	Strategy     string
	InstrumentID string
	Direction    PositionDirection
}

// Key 返回该持仓的键。
func (p Position) Key() PositionKey {
	return PositionKey{
		Product:      p.Product,
		Strategy:     p.Strategy,
		InstrumentID: p.InstrumentID,
		Direction:    p.Direction,
	}
}
