package trade

import (
	"time"

	"github.com/google/uuid"
)

// Status 表示一笔交易的终态。
type Status string

const (
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Request 描述调用方的交易意图，创建后不可变。
// Amount 以输入代币计价，MinProfitThreshold 以输出代币计价。
type Request struct {
	ID                 string
	Wallet             string
	InputToken         string
	OutputToken        string
	Amount             float64
	MaxSlippagePercent float64
	MinProfitThreshold float64
	CreatedAt          time.Time
}

// NewRequest 创建带唯一ID的交易请求，该ID同时作为链上提交的客户端参考，
// 用于在重试时识别可能已落地的交易。
func NewRequest(wallet, inputToken, outputToken string, amount, maxSlippagePct, minProfit float64) Request {
	return Request{
		ID:                 uuid.NewString(),
		Wallet:             wallet,
		InputToken:         inputToken,
		OutputToken:        outputToken,
		Amount:             amount,
		MaxSlippagePercent: maxSlippagePct,
		MinProfitThreshold: minProfit,
		CreatedAt:          time.Now().UTC(),
	}
}

// Pair 返回请求对应的交易对标识。
func (r Request) Pair() string {
	return r.InputToken + "/" + r.OutputToken
}

// Result 为一次交易请求的最终结果，进入终态后不再变化。
type Result struct {
	RequestID       string
	Status          Status
	TxSignature     string
	ActualOutput    float64
	FeePaid         float64
	RejectionReason string
	Attempts        int
	FinishedAt      time.Time
}
