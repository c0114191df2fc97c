package safety

import (
	"fmt"
	"time"

	"sniperforge/internal/config"
	"sniperforge/internal/quote"
	"sniperforge/internal/trade"
)

// Verdict 表示安全检查结论。
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// 拒绝原因。安全层拒绝对当前尝试是终态的，重试不会改变结果。
const (
	ReasonQuoteExpired       = "报价已过期"
	ReasonSlippageTooHigh    = "预估滑点超过上限"
	ReasonProfitBelowMinimum = "预期利润低于阈值"
	ReasonInsufficientFunds  = "余额不足"
)

// Decision 为安全检查结果。
type Decision struct {
	Verdict        Verdict
	Reason         string
	Detail         string
	ExpectedProfit float64
	EvaluatedAt    time.Time
}

// Approved 判断是否放行。
func (d Decision) Approved() bool {
	return d.Verdict == VerdictApprove
}

// Gate 对候选报价执行交易前安全检查。
// Evaluate 是纯函数：无副作用、无 I/O，相同输入必然得到相同结论。
type Gate struct {
	cfg config.SafetyConfig
}

// NewGate 创建安全检查器。
func NewGate(cfg config.SafetyConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate 按顺序检查：报价过期（在评估时刻重新检查，防止调度延迟）、
// 滑点上限、最小利润、余额充足性。任一不满足立即拒绝。
// walletBalance 以输入代币计价。
func (g *Gate) Evaluate(q quote.SwapQuote, req trade.Request, walletBalance float64, now time.Time) Decision {
	decision := Decision{EvaluatedAt: now}

	if q.Expired(now) {
		decision.Verdict = VerdictReject
		decision.Reason = ReasonQuoteExpired
		decision.Detail = fmt.Sprintf("expires_at=%s now=%s", q.ExpiresAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		return decision
	}

	slippageLimit := g.slippageLimit(req)
	if q.EstimatedSlippagePercent > slippageLimit {
		decision.Verdict = VerdictReject
		decision.Reason = ReasonSlippageTooHigh
		decision.Detail = fmt.Sprintf("estimated=%.4f%% limit=%.4f%%", q.EstimatedSlippagePercent, slippageLimit)
		return decision
	}

	fee := g.effectiveFee(q)

	// 预期利润 = 产出价值 - 投入价值 - 手续费，均折算到输出代币。
	inputValue := (q.InputAmount + fee) * q.ConsensusAnchor
	profit := q.ExpectedOutput - inputValue
	decision.ExpectedProfit = profit

	minProfit := req.MinProfitThreshold
	if minProfit <= 0 {
		minProfit = g.cfg.MinProfitThreshold
	}
	if profit < minProfit {
		decision.Verdict = VerdictReject
		decision.Reason = ReasonProfitBelowMinimum
		decision.Detail = fmt.Sprintf("profit=%.6f threshold=%.6f", profit, minProfit)
		return decision
	}

	if walletBalance < req.Amount+fee {
		decision.Verdict = VerdictReject
		decision.Reason = ReasonInsufficientFunds
		decision.Detail = fmt.Sprintf("balance=%.6f required=%.6f", walletBalance, req.Amount+fee)
		return decision
	}

	decision.Verdict = VerdictApprove
	return decision
}

func (g *Gate) slippageLimit(req trade.Request) float64 {
	limit := req.MaxSlippagePercent
	if limit <= 0 || limit > g.cfg.MaxSlippagePercent {
		limit = g.cfg.MaxSlippagePercent
	}
	return limit
}

func (g *Gate) effectiveFee(q quote.SwapQuote) float64 {
	if q.EstimatedFee > 0 {
		return q.EstimatedFee
	}
	return g.cfg.FeeEstimate
}
