package executor

import "errors"

var (
	// ErrQuoteExpired 表示报价在执行时刻已过期，绝不提交。
	ErrQuoteExpired = errors.New("executor: 报价已过期，拒绝执行")
	// ErrSubmitFailed 表示交易未能广播，链上没有任何状态，可安全重试。
	ErrSubmitFailed = errors.New("executor: 交易提交失败")
	// ErrUnconfirmed 表示确认窗口内未见最终状态。交易可能随后落地，
	// 调用方必须把它当作不确定而非失败，重试需依赖客户端参考去重。
	ErrUnconfirmed = errors.New("executor: 确认超时，交易状态不明")
)

// IsTransient 判断执行层错误是否可重试。
// 链上明确失败与结算滑点超限不在此列，它们是终态。
func IsTransient(err error) bool {
	return errors.Is(err, ErrSubmitFailed) || errors.Is(err, ErrUnconfirmed)
}
