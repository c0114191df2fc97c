package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sniperforge/internal/config"
)

// RejectionSink 接收被共识层排除的来源报价通知，用于持久化追踪。
// 实现不得阻塞共识计算。
type RejectionSink interface {
	RecordSourceRejected(ctx context.Context, pair, source, reason string)
}

// Validator 并发查询全部价格来源并计算共识价格。
// 共识结果不会在两次调用之间保留，每次调用都重新拉取。
type Validator struct {
	cfg     config.PricingConfig
	sources []Source
	sink    RejectionSink
	logger  *zap.Logger
}

// NewValidator 创建多源价格校验器。
func NewValidator(cfg config.PricingConfig, sources []Source, logger *zap.Logger) (*Validator, error) {
	if len(sources) < cfg.MinSources {
		return nil, fmt.Errorf("pricing: 配置了 %d 个来源，少于 min_sources=%d", len(sources), cfg.MinSources)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		cfg:     cfg,
		sources: sources,
		logger:  logger,
	}, nil
}

// WithRejectionSink 挂接来源排除事件的接收端。
func (v *Validator) WithRejectionSink(sink RejectionSink) *Validator {
	v.sink = sink
	return v
}

// ConsensusPrice 向全部来源发起并发拉取，在有界超时内收集结果，
// 过滤掉超过新鲜度窗口的报价后计算中位数共识。
// 慢来源不会阻塞其余来源，只要存活报价达到 min_sources 即可成功。
func (v *Validator) ConsensusPrice(ctx context.Context, pair string) (ConsensusPrice, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, v.cfg.FreshDataTimeout)
	defer cancel()

	quotes := make([]PriceQuote, len(v.sources))
	failures := make([]error, len(v.sources))

	g, gctx := errgroup.WithContext(fetchCtx)
	for i, src := range v.sources {
		i, src := i, src
		g.Go(func() error {
			quote, err := src.FetchPrice(gctx, pair)
			if err != nil {
				failures[i] = err
				return nil // 单源失败不终止其它来源
			}
			quotes[i] = quote
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	fresh := make([]PriceQuote, 0, len(quotes))
	for i, q := range quotes {
		if failures[i] != nil {
			v.logger.Warn("价格来源失败",
				zap.String("pair", pair),
				zap.String("source", v.sources[i].Name()),
				zap.Error(failures[i]),
			)
			v.reject(ctx, pair, v.sources[i].Name(), fmt.Sprintf("来源拉取失败: %v", failures[i]))
			continue
		}
		if age := q.Age(now); age > v.cfg.MaxPriceAge {
			v.logger.Warn("报价超过新鲜度窗口，丢弃",
				zap.String("pair", pair),
				zap.String("source", q.Source),
				zap.Duration("age", age),
				zap.Duration("max_age", v.cfg.MaxPriceAge),
			)
			v.reject(ctx, pair, q.Source, fmt.Sprintf("报价超过新鲜度窗口: 年龄 %s 上限 %s", age, v.cfg.MaxPriceAge))
			continue
		}
		fresh = append(fresh, q)
	}

	if len(fresh) < v.cfg.MinSources {
		var detail error
		for _, f := range failures {
			if f != nil {
				detail = multierr.Append(detail, f)
			}
		}
		if detail != nil {
			return ConsensusPrice{}, fmt.Errorf("%w: 存活 %d/%d: %v", ErrInsufficientSources, len(fresh), v.cfg.MinSources, detail)
		}
		return ConsensusPrice{}, fmt.Errorf("%w: 存活 %d/%d", ErrInsufficientSources, len(fresh), v.cfg.MinSources)
	}

	maxDev := maxPairwiseDeviation(fresh)
	if maxDev > v.cfg.PriceTolerancePercent {
		return ConsensusPrice{}, fmt.Errorf("%w: 最大偏差 %.4f%% 超过 %.4f%%", ErrInconsistent, maxDev, v.cfg.PriceTolerancePercent)
	}

	contributors := make([]string, 0, len(fresh))
	for _, q := range fresh {
		contributors = append(contributors, q.Source)
	}

	consensus := ConsensusPrice{
		Pair:                pair,
		Price:               medianPrice(fresh),
		Sources:             contributors,
		MaxDeviationPercent: maxDev,
		ComputedAt:          now,
	}

	v.logger.Debug("共识价格计算完成",
		zap.String("pair", pair),
		zap.Float64("price", consensus.Price),
		zap.Strings("sources", contributors),
		zap.Float64("max_deviation_pct", maxDev),
	)

	return consensus, nil
}

// reject 上报一次来源排除。fetchCtx 此时可能已超时，因此用调用方的 ctx。
func (v *Validator) reject(ctx context.Context, pair, source, reason string) {
	if v.sink == nil {
		return
	}
	v.sink.RecordSourceRejected(ctx, pair, source, reason)
}

// IsValidationError 判断错误是否属于共识校验层（来源不足或价格不一致）。
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInsufficientSources) || errors.Is(err, ErrInconsistent)
}

func maxPairwiseDeviation(quotes []PriceQuote) float64 {
	maxDev := 0.0
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			dev := deviationPercent(quotes[i].Price, quotes[j].Price)
			if dev > maxDev {
				maxDev = dev
			}
		}
	}
	return maxDev
}

func deviationPercent(a, b float64) float64 {
	mid := (a + b) / 2
	if mid == 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff / mid * 100
}

func medianPrice(quotes []PriceQuote) float64 {
	prices := make([]float64, 0, len(quotes))
	for _, q := range quotes {
		prices = append(prices, q.Price)
	}
	sort.Float64s(prices)

	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}
