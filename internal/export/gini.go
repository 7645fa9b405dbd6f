package export

import "sort"

// Gini 计算财富基尼系数：(2·Σ(i+1)·w_i)/(n·Σw) − (n+1)/n，w 升序。
// 少于两个样本或总和不为正时返回 0。
func Gini(wealths []float64) float64 {
	n := len(wealths)
	if n < 2 {
		return 0
	}
	sorted := append([]float64(nil), wealths...)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, w := range sorted {
		sum += w
		weighted += float64(i+1) * w
	}
	if sum <= 0 {
		return 0
	}
	fn := float64(n)
	return (2*weighted)/(fn*sum) - (fn+1)/fn
}
