package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sniperforge/internal/config"
)

// JupiterSource 通过 Jupiter Price API 获取即时报价。
// API 自身不做缓存，每次调用都是一次真实的网络请求。
type JupiterSource struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewJupiterSource 创建 Jupiter 价格来源，按配置启用速率限制。
func NewJupiterSource(cfg config.SourceConfig, logger *zap.Logger) *JupiterSource {
	if logger == nil {
		logger = zap.NewNop()
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &JupiterSource{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: 2 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Name 返回来源名称。
func (s *JupiterSource) Name() string {
	return s.name
}

type jupiterPriceResponse struct {
	Data map[string]struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
	} `json:"data"`
}

// FetchPrice 拉取交易对的即时价格。
func (s *JupiterSource) FetchPrice(ctx context.Context, pair string) (PriceQuote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceTimeout, err)
	}

	input, output, err := splitPair(pair)
	if err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, err)
	}

	started := time.Now()
	endpoint := fmt.Sprintf("%s/price?ids=%s&vsToken=%s", s.baseURL, url.QueryEscape(input), url.QueryEscape(output))

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

	var decoded jupiterPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, err)
	}

	entry, ok := decoded.Data[input]
	if !ok || entry.Price <= 0 {
		return PriceQuote{}, newSourceError(s.name, SourceMalformed, fmt.Errorf("响应缺少 %s 的价格", input))
	}

	observed := time.Now()
	return PriceQuote{
		Pair:       pair,
		Price:      entry.Price,
		Source:     s.name,
		ObservedAt: observed,
		Latency:    observed.Sub(started),
	}, nil
}

func splitPair(pair string) (string, string, error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("非法交易对 %q", pair)
	}
	return parts[0], parts[1], nil
}

func classifyHTTPError(source string, err error) *SourceError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return newSourceError(source, SourceTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newSourceError(source, SourceTimeout, err)
	}
	return newSourceError(source, SourceUnavailable, err)
}

func classifyHTTPStatus(source string, status int) *SourceError {
	if status >= 500 || status == http.StatusTooManyRequests {
		return newSourceError(source, SourceUnavailable, fmt.Errorf("http status %d", status))
	}
	return newSourceError(source, SourceMalformed, fmt.Errorf("http status %d", status))
}
