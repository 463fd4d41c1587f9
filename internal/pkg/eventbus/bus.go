// Package eventbus 提供按事件种类分型的回调注册表。
// 回测为单线程协作式执行，总线不做并发保护，归属它的组件独占调用。
package eventbus

import (
	"fmt"

	"backsim/internal/logger"
)

// Handle 标识一次注册，可用于后续移除。
type Handle struct {
	kind string
	id   int64
}

// Kind 返回该句柄所属的事件种类。
func (h Handle) Kind() string { return h.kind }

type sub[T any] struct {
	id int64
	fn func(T) error
}

// Bus 维护单一事件种类的处理器列表，按注册顺序逐个触发。
type Bus[T any] struct {
	kind  string
	seq   int64
	subs  []sub[T]
	debug bool
}

// New 创建指定种类的总线。
func New[T any](kind string) *Bus[T] {
	return &Bus[T]{kind: kind}
}

// SetDebug 打开后，处理器的失败会向上抛出并中止整个回放；
// 关闭时仅记录日志（批量回测的容错模式）。
func (b *Bus[T]) SetDebug(debug bool) { b.debug = debug }

// Register 追加一个处理器，返回可移除的句柄。
func (b *Bus[T]) Register(fn func(T) error) Handle {
	b.seq++
	b.subs = append(b.subs, sub[T]{id: b.seq, fn: fn})
	return Handle{kind: b.kind, id: b.seq}
}

// Remove 按句柄移除处理器；句柄不属于本总线时返回 false。
func (b *Bus[T]) Remove(h Handle) bool {
	if h.kind != b.kind {
		return false
	}
	for i, s := range b.subs {
		if s.id == h.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len 返回当前处理器数量。
func (b *Bus[T]) Len() int { return len(b.subs) }

// Fire 按注册顺序触发全部处理器。
// 失败（返回 error 或 panic）总是记录事件种类与处理器编号；
// debug 模式下返回首个失败以便中止运行。
func (b *Bus[T]) Fire(v T) error {
	var first error
	for _, s := range b.subs {
		if err := b.invoke(s, v); err != nil {
			logger.Errorf("事件处理失败 kind=%s handler=%d: %v", b.kind, s.id, err)
			if first == nil {
				first = fmt.Errorf("事件 %s 处理器 %d: %w", b.kind, s.id, err)
			}
		}
	}
	if b.debug {
		return first
	}
	return nil
}

func (b *Bus[T]) invoke(s sub[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(v)
}
