package replay

import (
	"errors"
	"fmt"
	"sort"

	"backsim/internal/market"
)

// ErrDuplicateDay 表示对已有非空窗口的交易日重复写入。
var ErrDuplicateDay = errors.New("该交易日的回放窗口已存在")

// Index 管理单个合约按交易日划分的回放窗口。
// 每个订阅合约一份，由调度器在每个交易日开始前重新装填。
type Index struct {
	instrumentID string
	windows      map[string]*Window
	currentDay   string
}

// NewIndex 创建指定合约的回放索引。
func NewIndex(instrumentID string) *Index {
	return &Index{
		instrumentID: instrumentID,
		windows:      make(map[string]*Window),
	}
}

// InstrumentID 返回索引所属合约。
func (x *Index) InstrumentID() string { return x.instrumentID }

// Clear 清空指定交易日的窗口，交易日不存在时为空操作。
func (x *Index) Clear(day string) {
	delete(x.windows, day)
}

// AddRecords 为交易日追加有序记录；记录按事件时间稳定排序后写入。
// 对已存在且非空的窗口重复调用返回 ErrDuplicateDay。
func (x *Index) AddRecords(day string, recs []market.Record) error {
	if w, ok := x.windows[day]; ok && w.Len() > 0 {
		return fmt.Errorf("%w: %s %s", ErrDuplicateDay, x.instrumentID, day)
	}
	w := newWindow(day)
	sorted := make([]market.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordTime() < sorted[j].RecordTime()
	})
	w.append(sorted)
	x.windows[day] = w
	return nil
}

// SetCurrentDay 切换当前交易日指针。
func (x *Index) SetCurrentDay(day string) {
	x.currentDay = day
}

// CurrentWindow 返回当前交易日的窗口，无数据时返回 nil。
// 当日缺数据不是错误：它表示该合约当天停牌或数据缺口，由调度器记录并继续。
func (x *Index) CurrentWindow() *Window {
	return x.windows[x.currentDay]
}

// AdvanceTo 在当前交易日窗口内取出事件时间 <= ts 的未消费记录。
// 当天没有窗口、窗口为空或下一条记录晚于 ts 时返回 (false, nil)。
func (x *Index) AdvanceTo(ts int64) (bool, []market.Record) {
	w := x.windows[x.currentDay]
	if w == nil {
		return false, nil
	}
	return w.advanceTo(ts)
}
