package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sniperforge/internal/config"
)

// DexScreenerSource 通过 DexScreener API 获取次级报价，用于交叉验证。
type DexScreenerSource struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDexScreenerSource 创建 DexScreener 价格来源。
func NewDexScreenerSource(cfg config.SourceConfig, logger *zap.Logger) *DexScreenerSource {
	if logger == nil {
		logger = zap.NewNop()
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &DexScreenerSource{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: 2 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Name 返回来源名称。
func (s *DexScreenerSource) Name() string {
	return s.name
}

type dexScreenerResponse struct {
	Pairs []struct {
		BaseToken struct {
			Symbol string `json:"symbol"`
		} `json:"baseToken"`
		QuoteToken struct {
			Symbol string `json:"symbol"`
		} `json:"quoteToken"`
		PriceNative string `json:"priceNative"`
		Liquidity   struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// FetchPrice 拉取交易对即时价格，多个池中取流动性最高者。
func (s *DexScreenerSource) FetchPrice(ctx context.Context, pair string) (PriceQuote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceTimeout, err)
	}

	input, output, err := splitPair(pair)
	if err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, err)
	}

	started := time.Now()
	endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", s.baseURL, url.QueryEscape(input+"/"+output))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return PriceQuote{}, classifyHTTPError(s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, classifyHTTPStatus(s.name, resp.StatusCode)
	}

	var decoded dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, err)
	}

	best := -1.0
	price := 0.0
	for _, p := range decoded.Pairs {
		if !strings.EqualFold(p.BaseToken.Symbol, input) || !strings.EqualFold(p.QuoteToken.Symbol, output) {
			continue
		}
		v, parseErr := strconv.ParseFloat(p.PriceNative, 64)
		if parseErr != nil || v <= 0 {
			continue
		}
		if p.Liquidity.USD > best {
			best = p.Liquidity.USD
			price = v
		}
	}

	if price <= 0 {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, fmt.Errorf("未找到 %s 的有效池报价", pair))
	}

	observed := time.Now()
	return PriceQuote{
		Pair:       pair,
		Price:      price,
		Source:     s.name,
		ObservedAt: observed,
		Latency:    observed.Sub(started),
	}, nil
}
