package quote

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoRoute 表示路由聚合商找不到可执行路径。
	ErrNoRoute = errors.New("quote: 无可用路由")
	// ErrRouteDivergence 表示路由隐含价格偏离共识价格超出容忍范围。
	ErrRouteDivergence = errors.New("quote: 路由价格偏离共识")
	// ErrProvider 表示路由聚合商自身故障（超时、5xx），属于瞬时错误。
	ErrProvider = errors.New("quote: 路由服务异常")
)

// SwapQuote 为一次可执行的换币报价，有效期很短，过期后必须重建。
// InputAmount 以输入代币计价，ExpectedOutput 以输出代币计价，
// EstimatedFee 以输入代币计价（网络费与优先费均以输入链原生币支付）。
type SwapQuote struct {
	InputToken               string
	OutputToken              string
	InputAmount              float64
	ExpectedOutput           float64
	EstimatedFee             float64
	EstimatedSlippagePercent float64
	RouteHops                int
	ConsensusAnchor          float64
	// RoutePayload 为路由聚合商返回的完整报价载荷，执行时原样传回换币接口。
	RoutePayload json.RawMessage
	BuiltAt      time.Time
	ExpiresAt    time.Time
}

// Expired 判断报价在给定时刻是否已过期。
func (q SwapQuote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// ImpliedPrice 返回路由隐含价格（每单位输入换得的输出）。
func (q SwapQuote) ImpliedPrice() float64 {
	if q.InputAmount <= 0 {
		return 0
	}
	return q.ExpectedOutput / q.InputAmount
}
