package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/executor"
	"sniperforge/internal/monitor"
	"sniperforge/internal/pricing"
	"sniperforge/internal/quote"
	"sniperforge/internal/retry"
	"sniperforge/internal/safety"
	"sniperforge/internal/store"
	"sniperforge/internal/trade"
	"sniperforge/internal/wallet"
)

// orchestrator 串起完整交易管线：
// 多源共识 → 路由报价 → 安全检查 → 链上执行，外层由重试协调器驱动。
// 管线不持有任何跨尝试的价格或报价状态，每次尝试全部重新获取。
type orchestrator struct {
	cfg         *config.Config
	validator   *pricing.Validator
	builder     *quote.Builder
	gate        *safety.Gate
	executor    *executor.Executor
	wallet      wallet.Wallet
	breaker     *retry.Breaker
	coordinator *retry.Coordinator
	monitor     *monitor.Service
	streams     []*pricing.StreamSource
	logger      *zap.Logger
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, store *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	sources, streams, err := pricing.NewSources(cfg.Pricing, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化价格来源失败: %w", err)
	}

	validator, err := pricing.NewValidator(cfg.Pricing, sources, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化价格校验器失败: %w", err)
	}
	validator.WithRejectionSink(monitorSvc)

	builder := quote.NewBuilder(cfg.Routing, logger)
	gate := safety.NewGate(cfg.Safety)

	var (
		w    wallet.Wallet
		exec *executor.Executor
	)
	if cfg.Execution.Simulation {
		logger.Info("执行器处于模拟模式")
		w = executor.NewSimulatedWallet(cfg.Wallet.Address, 100)
		exec = executor.NewSimulated(cfg.Execution, w, logger)
	} else {
		w, err = wallet.NewLocalWallet(cfg.Wallet, executor.RPCBalances(cfg.Execution))
		if err != nil {
			return nil, fmt.Errorf("初始化钱包失败: %w", err)
		}
		exec = executor.New(cfg.Execution, cfg.Routing, w, logger)
	}

	breaker := retry.NewBreaker(cfg.Retry.FailureThreshold, cfg.Retry.Cooldown)
	coordinator := retry.NewCoordinator(cfg.Retry, breaker, logger)

	return &orchestrator{
		cfg:         cfg,
		validator:   validator,
		builder:     builder,
		gate:        gate,
		executor:    exec,
		wallet:      w,
		breaker:     breaker,
		coordinator: coordinator,
		monitor:     monitorSvc,
		streams:     streams,
		logger:      logger,
	}, nil
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

// Start 拉起 websocket 来源的订阅连接。
func (o *orchestrator) Start(ctx context.Context) {
	for _, stream := range o.streams {
		stream.Start(ctx)
	}
}

// Close 关闭全部流式来源连接。
func (o *orchestrator) Close() {
	for _, stream := range o.streams {
		stream.Close()
	}
}

// Submit 执行一笔交易请求直至终态。
// 每次尝试都完整跑一遍共识、报价、安全检查、执行，绝不复用上一轮数据。
func (o *orchestrator) Submit(ctx context.Context, req trade.Request) trade.Result {
	attemptSeq := 0

	result, err := o.coordinator.Run(ctx, req, func(ctx context.Context) (trade.Result, error) {
		attemptSeq++
		o.monitor.RecordTradeSubmitted(ctx, req, attemptSeq)

		return o.attempt(ctx, req)
	})
	if err != nil {
		if errors.Is(err, retry.ErrCircuitOpen) {
			o.monitor.RecordCircuitOpen(ctx, o.breaker.Consecutive())
		} else {
			o.monitor.RecordError(ctx, req.ID, "交易执行异常", err)
		}
	}

	o.monitor.RecordExecution(ctx, result)
	if recErr := o.monitor.RecordTradeResult(ctx, result); recErr != nil {
		o.logger.Warn("写入交易历史失败", zap.String("request_id", req.ID), zap.Error(recErr))
	}

	o.logger.Info("交易请求已终结",
		zap.String("request_id", req.ID),
		zap.String("status", string(result.Status)),
		zap.Int("attempts", result.Attempts),
		zap.String("reason", result.RejectionReason),
	)

	return result
}

// attempt 为一次完整的交易尝试。返回 error 交由协调器分类，
// 返回带状态的 Result 则是业务终态。
func (o *orchestrator) attempt(ctx context.Context, req trade.Request) (trade.Result, error) {
	consensus, err := o.validator.ConsensusPrice(ctx, req.Pair())
	if err != nil {
		o.monitor.RecordError(ctx, req.ID, "共识价格计算失败", err)
		return trade.Result{}, err
	}
	o.monitor.RecordConsensus(ctx, req.ID, consensus)

	q, err := o.builder.BuildQuote(ctx, req, consensus)
	if err != nil {
		o.monitor.RecordError(ctx, req.ID, "构建换币报价失败", err)
		return trade.Result{}, err
	}
	o.monitor.RecordQuoteBuilt(ctx, req.ID, q)

	balance, err := o.wallet.Balance(ctx, req.InputToken)
	if err != nil {
		o.monitor.RecordError(ctx, req.ID, "查询钱包余额失败", err)
		return trade.Result{}, fmt.Errorf("查询钱包余额失败: %w", err)
	}

	decision := o.gate.Evaluate(q, req, balance, time.Now())
	o.monitor.RecordSafetyDecision(ctx, req.ID, decision)
	if !decision.Approved() {
		o.logger.Warn("安全检查拒绝交易",
			zap.String("request_id", req.ID),
			zap.String("reason", decision.Reason),
			zap.String("detail", decision.Detail),
		)
		return trade.Result{
			RequestID:       req.ID,
			Status:          trade.StatusRejected,
			RejectionReason: decision.Reason,
			FinishedAt:      time.Now().UTC(),
		}, nil
	}

	return o.executor.Execute(ctx, q, req)
}
