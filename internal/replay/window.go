package replay

import "backsim/internal/market"

// Window 保存单个（合约，交易日）的有序行情序列和消费游标。
// 游标单日内只前进不回退，保证每条记录至多投递一次。
type Window struct {
	day     string
	records []market.Record
	cursor  int // 已消费的最后一条下标，初始 -1
}

func newWindow(day string) *Window {
	return &Window{day: day, cursor: -1}
}

// Day 返回窗口所属交易日。
func (w *Window) Day() string { return w.day }

// Len 返回记录总数。
func (w *Window) Len() int { return len(w.records) }

// Remaining 返回未消费的记录数。
func (w *Window) Remaining() int { return len(w.records) - w.cursor - 1 }

func (w *Window) append(recs []market.Record) {
	w.records = append(w.records, recs...)
}

// next 消费并返回下一条记录。
func (w *Window) next() (market.Record, bool) {
	if w == nil || w.cursor >= len(w.records)-1 {
		return nil, false
	}
	w.cursor++
	return w.records[w.cursor], true
}

// advanceTo 取出所有事件时间 <= ts 且尚未消费的记录并推进游标。
// 没有新记录可取时返回 (false, nil)。
func (w *Window) advanceTo(ts int64) (bool, []market.Record) {
	if w == nil || w.cursor >= len(w.records)-1 {
		return false, nil
	}
	start := w.cursor + 1
	end := start
	for end < len(w.records) && w.records[end].RecordTime() <= ts {
		end++
	}
	if end == start {
		return false, nil
	}
	w.cursor = end - 1
	out := make([]market.Record, end-start)
	copy(out, w.records[start:end])
	return true, out
}
