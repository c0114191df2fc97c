package pricing

import "time"

// PriceQuote 为单一来源的一次即时报价，创建后不可变。
// ObservedAt 为拉取完成时间，聚合时超过新鲜度窗口的报价直接丢弃。
type PriceQuote struct {
	Pair       string
	Price      float64
	Source     string
	ObservedAt time.Time
	Latency    time.Duration
}

// Age 返回报价相对 now 的年龄。
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// ConsensusPrice 为多源共识价格。
// 由至少 min_sources 个偏差在容忍范围内的新鲜报价计算得出，取中位数以抵抗单源偏移。
type ConsensusPrice struct {
	Pair                string
	Price               float64
	Sources             []string
	MaxDeviationPercent float64
	ComputedAt          time.Time
}
