package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/executor"
	"sniperforge/internal/pricing"
	"sniperforge/internal/quote"
	"sniperforge/internal/trade"
)

// State 为协调器状态机的状态。
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateSuccess    State = "success"
	StateExhausted  State = "exhausted"
)

// Attempt 为一次完整的交易尝试：重新取共识、重新建报价、重新过安全检查、
// 提交执行。协调器每次重试都调用一次，绝不跨尝试复用任何报价数据。
type Attempt func(ctx context.Context) (trade.Result, error)

// Coordinator 以显式状态机控制重试与熔断。
// 它是唯一有权把一串错误折算成终态 TradeResult 的组件。
type Coordinator struct {
	cfg     config.RetryConfig
	breaker *Breaker
	clock   Clock
	logger  *zap.Logger
}

// NewCoordinator 创建重试协调器。breaker 由外部注入以便跨协调器共享。
func NewCoordinator(cfg config.RetryConfig, breaker *Breaker, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		breaker: breaker,
		clock:   realClock{},
		logger:  logger,
	}
}

// WithClock 替换时钟，测试用。
func (c *Coordinator) WithClock(clock Clock) *Coordinator {
	c.clock = clock
	return c
}

// Run 驱动状态机：Idle → Attempting → (Success | Retrying → Attempting | Exhausted)。
// 瞬时错误按指数退避重试至 max_attempts；终态错误（安全拒绝、结算滑点、
// 价格校验失败）直接 Exhausted，不做无意义的重试。
func (c *Coordinator) Run(ctx context.Context, req trade.Request, attempt Attempt) (trade.Result, error) {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("熔断器打开，快速失败", zap.String("request_id", req.ID))
		return trade.Result{
			RequestID:       req.ID,
			Status:          trade.StatusFailed,
			RejectionReason: "熔断器打开，未触达下游",
			FinishedAt:      c.clock.Now().UTC(),
		}, err
	}

	wait := &backoff.Backoff{
		Min:    c.cfg.BackoffBase,
		Max:    c.cfg.BackoffMax,
		Factor: c.cfg.BackoffFactor,
	}

	state := StateIdle
	attempts := 0
	var lastErr error

	for {
		state = c.transition(req.ID, state, StateAttempting)
		attempts++

		res, err := attempt(ctx)
		if err == nil {
			res.RequestID = req.ID
			res.Attempts = attempts
			if res.FinishedAt.IsZero() {
				res.FinishedAt = c.clock.Now().UTC()
			}

			if res.Status == trade.StatusExecuted {
				c.transition(req.ID, state, StateSuccess)
				c.breaker.RecordSuccess()
				return res, nil
			}

			// Rejected/Failed 是业务终态，重试不会改变结果
			c.transition(req.ID, state, StateExhausted)
			c.breaker.RecordExhausted()
			return res, nil
		}

		lastErr = err

		if !isTransient(err) {
			c.transition(req.ID, state, StateExhausted)
			c.breaker.RecordExhausted()
			return c.terminal(req, attempts, err), nil
		}

		if attempts >= c.cfg.MaxAttempts {
			c.transition(req.ID, state, StateExhausted)
			c.breaker.RecordExhausted()
			return trade.Result{
				RequestID:       req.ID,
				Status:          trade.StatusFailed,
				RejectionReason: fmt.Sprintf("重试 %d 次后仍失败: %v", attempts, lastErr),
				Attempts:        attempts,
				FinishedAt:      c.clock.Now().UTC(),
			}, nil
		}

		state = c.transition(req.ID, state, StateRetrying)
		delay := wait.Duration()
		c.logger.Warn("尝试失败，准备重试",
			zap.String("request_id", req.ID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", delay),
			zap.Error(err),
		)

		if sleepErr := c.clock.Sleep(ctx, delay); sleepErr != nil {
			c.transition(req.ID, state, StateExhausted)
			c.breaker.RecordExhausted()
			return trade.Result{
				RequestID:       req.ID,
				Status:          trade.StatusFailed,
				RejectionReason: fmt.Sprintf("等待重试时被取消: %v", sleepErr),
				Attempts:        attempts,
				FinishedAt:      c.clock.Now().UTC(),
			}, nil
		}
	}
}

func (c *Coordinator) transition(requestID string, from, to State) State {
	c.logger.Debug("状态迁移",
		zap.String("request_id", requestID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return to
}

func (c *Coordinator) terminal(req trade.Request, attempts int, err error) trade.Result {
	status := trade.StatusFailed
	if isRejection(err) {
		status = trade.StatusRejected
	}
	return trade.Result{
		RequestID:       req.ID,
		Status:          status,
		RejectionReason: err.Error(),
		Attempts:        attempts,
		FinishedAt:      c.clock.Now().UTC(),
	}
}

// isTransient 判断错误是否值得重试：确认超时、提交失败、路由服务异常、
// 来源级超时或不可用。其余一律终态。
func isTransient(err error) bool {
	return executor.IsTransient(err) ||
		quote.IsProviderError(err) ||
		pricing.IsSourceTransient(err)
}

// isRejection 区分"拒绝"与"失败"：数据质量或规则不满足导致的终态是拒绝。
func isRejection(err error) bool {
	return pricing.IsValidationError(err) ||
		errors.Is(err, quote.ErrNoRoute) ||
		errors.Is(err, quote.ErrRouteDivergence) ||
		errors.Is(err, executor.ErrQuoteExpired)
}
