// Package notifier 在回测结束（或失败）时向外部渠道推送摘要，
// 目前实现 Telegram 文本推送。
package notifier

// TextNotifier 是最小的文本通知接口，便于上层只依赖抽象。
type TextNotifier interface {
	SendText(text string) error
}
