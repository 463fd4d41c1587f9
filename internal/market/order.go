package market

import (
	"time"
)

// Direction 买卖方向。
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Opposite 返回对手方向。
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Offset 开平标志。
type Offset string

const (
	OffsetOpen  Offset = "open"
	OffsetClose Offset = "close"
)

// OrderStatus 订单状态机：
// pending_submit -> {submitted, rejected}
// submitted      -> {part_filled, all_filled, canceled}
// part_filled    -> {part_filled, all_filled, canceled}
// rejected / canceled / all_filled 为终态。
type OrderStatus string

const (
	StatusPendingSubmit OrderStatus = "pending_submit"
	StatusSubmitted     OrderStatus = "submitted"
	StatusPartFilled    OrderStatus = "part_filled"
	StatusAllFilled     OrderStatus = "all_filled"
	StatusCanceled      OrderStatus = "canceled"
	StatusRejected      OrderStatus = "rejected"
)

// Terminal 判断状态是否为终态。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusAllFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// ReasonCode 结构化的失败原因，调用方可据此分支而不必匹配文案。
type ReasonCode string

const (
	ReasonNone                 ReasonCode = ""
	ReasonInsufficientFunds    ReasonCode = "insufficient_funds"
	ReasonInsufficientPosition ReasonCode = "insufficient_position"
	ReasonAlreadyFilled        ReasonCode = "already_filled"
)

// Reason 携带原因码和说明文案。
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// Order 描述一笔委托；进入撮合中心后由其独占管理，直到终态。
type Order struct {
	SysID          int64       `json:"sys_id"`
	LocalID        string      `json:"local_id"`
	Product        string      `json:"product"`
	Strategy       string      `json:"strategy"`
	InstrumentID   string      `json:"instrument_id"`
	Exchange       string      `json:"exchange"`
	Direction      Direction   `json:"direction"`
	Offset         Offset      `json:"offset"`
	Price          float64     `json:"price"`
	Volume         float64     `json:"volume"`
	FilledVolume   float64     `json:"filled_volume"`
	CanceledVolume float64     `json:"canceled_volume"`
	Status         OrderStatus `json:"status"`
	TradingDay     string      `json:"trading_day"`
	OrderTime      time.Time   `json:"order_time"`
	LocalOrderTime time.Time   `json:"local_order_time"`
	CancelTime     time.Time   `json:"cancel_time"`
	Reason         Reason      `json:"reason,omitempty"`
	Remark         string      `json:"remark,omitempty"`
}

// Remaining 返回未成交且未撤销的数量。
func (o *Order) Remaining() float64 {
	rest := o.Volume - o.FilledVolume - o.CanceledVolume
	if rest < 0 {
		return 0
	}
	return rest
}

// Trade 表示一次成交，由撮合策略生成后不可变。
type Trade struct {
	ID           int64     `json:"id"`
	OrderSysID   int64     `json:"order_sys_id"`
	InstrumentID string    `json:"instrument_id"`
	Direction    Direction `json:"direction"`
	Offset       Offset    `json:"offset"`
	Price        float64   `json:"price"`
	Volume       float64   `json:"volume"`
	TradeTime    time.Time `json:"trade_time"`
	TradingDay   string    `json:"trading_day"`
}
