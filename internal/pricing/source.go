package pricing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sniperforge/internal/config"
)

// Source 抽象单个价格来源。实现必须每次真实拉取，不允许返回缓存数据。
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, pair string) (PriceQuote, error)
}

// NewSources 根据配置构建全部价格来源。
// websocket 来源返回后处于未连接状态，需调用方 Start。
func NewSources(cfg config.PricingConfig, logger *zap.Logger) ([]Source, []*StreamSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sources := make([]Source, 0, len(cfg.Sources))
	streams := make([]*StreamSource, 0)

	for _, sc := range cfg.Sources {
		switch strings.ToLower(sc.Kind) {
		case "http":
			src, err := newHTTPSource(sc, logger)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, src)
		case "websocket":
			stream := NewStreamSource(sc, cfg.MaxPriceAge, logger)
			sources = append(sources, stream)
			streams = append(streams, stream)
		default:
			return nil, nil, fmt.Errorf("pricing: 不支持的来源类型 %q", sc.Kind)
		}
	}

	return sources, streams, nil
}

func newHTTPSource(sc config.SourceConfig, logger *zap.Logger) (Source, error) {
	switch strings.ToLower(sc.Name) {
	case "jupiter":
		return NewJupiterSource(sc, logger), nil
	case "dexscreener":
		return NewDexScreenerSource(sc, logger), nil
	default:
		return nil, fmt.Errorf("pricing: 未知的 http 来源 %q", sc.Name)
	}
}
