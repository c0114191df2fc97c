package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/quote"
	"sniperforge/internal/wallet"
)

// NewSimulated 创建模拟执行器：不触网，交易按报价产出立即结算。
// 用于纸上交易与本地联调。
func NewSimulated(cfg config.ExecutionConfig, w wallet.Wallet, logger *zap.Logger) *Executor {
	backend := &simulatedBackend{}
	return newExecutor(cfg, backend, backend, w, logger)
}

// SimulatedWallet 为模拟模式下的钱包：固定余额、签名即回显。
type SimulatedWallet struct {
	address string
	balance float64
}

// NewSimulatedWallet 创建模拟钱包。
func NewSimulatedWallet(address string, balance float64) *SimulatedWallet {
	if address == "" {
		address = "SIMULATED"
	}
	return &SimulatedWallet{address: address, balance: balance}
}

func (w *SimulatedWallet) Address() string { return w.address }

func (w *SimulatedWallet) SignTransaction(_ context.Context, raw []byte) ([]byte, error) {
	return raw, nil
}

func (w *SimulatedWallet) Balance(_ context.Context, _ string) (float64, error) {
	return w.balance, nil
}

// simulatedBackend 同时扮演交易构建与链端，产出等于报价预期。
type simulatedBackend struct {
	seq      atomic.Uint64
	mu       sync.Mutex
	expected map[string]float64
}

func (b *simulatedBackend) BuildSwapTransaction(_ context.Context, q quote.SwapQuote, owner string) ([]byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"owner":           owner,
		"expected_output": q.ExpectedOutput,
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *simulatedBackend) SendTransaction(_ context.Context, signed []byte) (string, error) {
	var decoded struct {
		ExpectedOutput float64 `json:"expected_output"`
	}
	if err := json.Unmarshal(signed, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	signature := fmt.Sprintf("SIM-%d", b.seq.Add(1))

	b.mu.Lock()
	if b.expected == nil {
		b.expected = make(map[string]float64)
	}
	b.expected[signature] = decoded.ExpectedOutput
	b.mu.Unlock()

	return signature, nil
}

func (b *simulatedBackend) SignatureStatus(_ context.Context, _ string) (TxStatus, error) {
	return TxStatus{State: TxConfirmed}, nil
}

func (b *simulatedBackend) SettledOutput(_ context.Context, signature, _, _ string) (float64, float64, error) {
	b.mu.Lock()
	output := b.expected[signature]
	b.mu.Unlock()
	return output, 0.000005, nil
}
