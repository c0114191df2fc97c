package wallet

import "context"

// Wallet 抽象签名与余额查询能力。核心只把它当作不透明能力使用，
// 永远不会持有或持久化私钥材料。
type Wallet interface {
	Address() string
	SignTransaction(ctx context.Context, raw []byte) ([]byte, error)
	Balance(ctx context.Context, token string) (float64, error)
}

// BalanceSource 提供链上余额查询，通常由 RPC 客户端实现。
type BalanceSource interface {
	TokenBalance(ctx context.Context, owner, token string) (float64, error)
}
