package market

import "time"

// Trade represents a priced card transfer. Gift transfers never become a Trade.
type Trade struct {
	Price float64
	Ts    time.Time
}

// Series 是一次拉取得到的成交序列，拉取后不再修改。
// 上游返回顺序为新→旧。
type Series []Trade

// Limit returns the first n trades (the newest n for an upstream series).
// n <= 0 or n >= len keeps everything.
func (s Series) Limit(n int) Series {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[:n]
}

// Chronological 返回反转后的副本，不修改原序列。
func (s Series) Chronological() Series {
	out := make(Series, len(s))
	for i, t := range s {
		out[len(s)-1-i] = t
	}
	return out
}

// Prices 按序列顺序提取价格
func (s Series) Prices() []float64 {
	out := make([]float64, len(s))
	for i, t := range s {
		out[i] = t.Price
	}
	return out
}

// Times 按序列顺序提取时间
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s))
	for i, t := range s {
		out[i] = t.Ts
	}
	return out
}
