// Package trading 提供仓位数量相关的计算。
package trading

// CloseVolume 按比例计算平仓数量：ratio 作用在当前持仓上，
// 结果不会超过当前可平数量。
func CloseVolume(currentVolume, ratio float64) float64 {
	if currentVolume <= 0 || ratio <= 0 {
		return 0
	}
	volume := currentVolume * ratio
	if volume > currentVolume {
		volume = currentVolume
	}
	return volume
}
