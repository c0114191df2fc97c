package quote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/pricing"
	"sniperforge/internal/trade"
)

type routeClient interface {
	Quote(ctx context.Context, req routeRequest) (routeResponse, error)
}

// Builder 将共识价格与交易意图转化为具体的换币报价。
// 报价永不复用：每次调用都向路由聚合商发起真实请求。
type Builder struct {
	cfg    config.RoutingConfig
	client routeClient
	logger *zap.Logger
}

// NewBuilder 创建报价构建器。
func NewBuilder(cfg config.RoutingConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:    cfg,
		client: newJupiterRouter(cfg),
		logger: logger,
	}
}

// BuildQuote 请求执行路由，以共识价格作为合理性锚点校验路由报价。
// 路由隐含价格偏离共识超过 route_divergence_percent 时拒绝，
// 防止路由端数据陈旧或被操纵。
func (b *Builder) BuildQuote(ctx context.Context, req trade.Request, consensus pricing.ConsensusPrice) (SwapQuote, error) {
	slippageBps := int(req.MaxSlippagePercent * 100)
	if slippageBps <= 0 {
		slippageBps = 50
	}

	resp, err := b.client.Quote(ctx, routeRequest{
		InputToken:  req.InputToken,
		OutputToken: req.OutputToken,
		Amount:      req.Amount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return SwapQuote{}, err
	}

	if resp.OutputAmount <= 0 {
		return SwapQuote{}, fmt.Errorf("%w: %s", ErrNoRoute, req.Pair())
	}

	implied := resp.OutputAmount / req.Amount
	divergence := relativeDeviationPercent(implied, consensus.Price)
	if divergence > b.cfg.RouteDivergencePercent {
		return SwapQuote{}, fmt.Errorf("%w: 隐含价 %.8f 对共识价 %.8f 偏差 %.4f%% 超过 %.4f%%",
			ErrRouteDivergence, implied, consensus.Price, divergence, b.cfg.RouteDivergencePercent)
	}

	built := time.Now()
	q := SwapQuote{
		InputToken:               req.InputToken,
		OutputToken:              req.OutputToken,
		InputAmount:              req.Amount,
		ExpectedOutput:           resp.OutputAmount,
		EstimatedFee:             resp.Fee,
		EstimatedSlippagePercent: resp.PriceImpactPercent,
		RouteHops:                resp.Hops,
		ConsensusAnchor:          consensus.Price,
		RoutePayload:             resp.Payload,
		BuiltAt:                  built,
		ExpiresAt:                built.Add(b.cfg.QuoteTTL),
	}

	b.logger.Debug("换币报价已构建",
		zap.String("pair", req.Pair()),
		zap.Float64("expected_output", q.ExpectedOutput),
		zap.Float64("implied_price", implied),
		zap.Float64("divergence_pct", divergence),
		zap.Int("hops", q.RouteHops),
		zap.Time("expires_at", q.ExpiresAt),
	)

	return q, nil
}

func relativeDeviationPercent(value, anchor float64) float64 {
	if anchor == 0 {
		return 0
	}
	diff := value - anchor
	if diff < 0 {
		diff = -diff
	}
	return diff / anchor * 100
}
