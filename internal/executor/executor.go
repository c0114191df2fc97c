package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/quote"
	"sniperforge/internal/trade"
	"sniperforge/internal/wallet"
)

type txBuilder interface {
	BuildSwapTransaction(ctx context.Context, q quote.SwapQuote, owner string) ([]byte, error)
}

type chain interface {
	SendTransaction(ctx context.Context, signed []byte) (string, error)
	SignatureStatus(ctx context.Context, signature string) (TxStatus, error)
	SettledOutput(ctx context.Context, signature, owner, mint string) (float64, float64, error)
}

// Executor 将通过安全检查的报价提交上链并跟踪确认。
// 每次调用恰好提交一次交易，重试完全交由上层协调器负责，
// 同一钱包的并发执行会被串行化，避免序列冲突。
type Executor struct {
	cfg     config.ExecutionConfig
	builder txBuilder
	chain   chain
	wallet  wallet.Wallet
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New 创建真实链上执行器。
func New(cfg config.ExecutionConfig, routing config.RoutingConfig, w wallet.Wallet, logger *zap.Logger) *Executor {
	rpc := newRPCClient(cfg)
	return newExecutor(cfg, newJupiterSwapBuilder(routing), rpc, w, logger)
}

// RPCBalances 返回执行器所用RPC的余额查询能力，供钱包层复用同一连接。
func RPCBalances(cfg config.ExecutionConfig) wallet.BalanceSource {
	return newRPCClient(cfg)
}

func newExecutor(cfg config.ExecutionConfig, builder txBuilder, ch chain, w wallet.Wallet, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:     cfg,
		builder: builder,
		chain:   ch,
		wallet:  w,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Execute 提交报价对应的交易并等待确认。
// 过期报价直接拒绝；结算产出偏离预期超过请求滑点上限时标记为失败而非成功。
func (e *Executor) Execute(ctx context.Context, q quote.SwapQuote, req trade.Request) (trade.Result, error) {
	result := trade.Result{
		RequestID: req.ID,
		Attempts:  1,
	}

	lock := e.lockFor(req.Wallet)
	lock.Lock()
	defer lock.Unlock()

	// 过期检查必须在拿到钱包锁之后：排队等锁期间报价可能已经失效
	if q.Expired(time.Now()) {
		return result, ErrQuoteExpired
	}

	raw, err := e.builder.BuildSwapTransaction(ctx, q, e.wallet.Address())
	if err != nil {
		return result, err
	}

	signed, err := e.wallet.SignTransaction(ctx, raw)
	if err != nil {
		return result, fmt.Errorf("executor: 签名失败: %w", err)
	}

	signature, err := e.chain.SendTransaction(ctx, signed)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	e.logger.Info("交易已广播",
		zap.String("request_id", req.ID),
		zap.String("signature", signature),
		zap.Float64("expected_output", q.ExpectedOutput),
	)

	status, err := e.awaitConfirmation(ctx, signature)
	if err != nil {
		return result, err
	}

	if status.State == TxFailed {
		result.Status = trade.StatusFailed
		result.TxSignature = signature
		result.RejectionReason = fmt.Sprintf("链上执行失败: %s", status.Err)
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	actualOutput, feePaid, err := e.chain.SettledOutput(ctx, signature, e.wallet.Address(), q.OutputToken)
	if err != nil {
		return result, fmt.Errorf("%w: 读取结算结果失败: %v", ErrUnconfirmed, err)
	}

	result.TxSignature = signature
	result.ActualOutput = actualOutput
	result.FeePaid = feePaid
	result.FinishedAt = time.Now().UTC()

	if dev := settlementDeviationPercent(actualOutput, q.ExpectedOutput); dev > req.MaxSlippagePercent {
		result.Status = trade.StatusFailed
		result.RejectionReason = fmt.Sprintf("结算滑点超限: 实际产出偏离预期 %.4f%% > %.4f%%", dev, req.MaxSlippagePercent)
		e.logger.Warn("结算滑点超限",
			zap.String("request_id", req.ID),
			zap.Float64("expected", q.ExpectedOutput),
			zap.Float64("actual", actualOutput),
			zap.Float64("deviation_pct", dev),
		)
		return result, nil
	}

	result.Status = trade.StatusExecuted
	e.logger.Info("交易执行成功",
		zap.String("request_id", req.ID),
		zap.String("signature", signature),
		zap.Float64("actual_output", actualOutput),
		zap.Float64("fee_paid", feePaid),
	)
	return result, nil
}

// awaitConfirmation 在 max_execution_time 窗口内轮询确认状态。
// 超时不等于失败：交易已广播无法撤回，只能放弃等待。
func (e *Executor) awaitConfirmation(ctx context.Context, signature string) (TxStatus, error) {
	deadline := time.Now().Add(e.cfg.MaxExecutionTime)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TxStatus{}, fmt.Errorf("%w: %v", ErrUnconfirmed, ctx.Err())
		case <-ticker.C:
			status, err := e.chain.SignatureStatus(ctx, signature)
			if err != nil {
				e.logger.Warn("查询确认状态失败", zap.String("signature", signature), zap.Error(err))
			} else if status.State != TxPending {
				return status, nil
			}

			if time.Now().After(deadline) {
				return TxStatus{}, fmt.Errorf("%w: %s", ErrUnconfirmed, signature)
			}
		}
	}
}

func (e *Executor) lockFor(walletAddr string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.locks[walletAddr]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[walletAddr] = lock
	}
	return lock
}

func settlementDeviationPercent(actual, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff / expected * 100
}
