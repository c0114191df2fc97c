package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sniperforge/internal/config"
)

type routeRequest struct {
	InputToken  string
	OutputToken string
	Amount      float64
	SlippageBps int
}

type routeResponse struct {
	OutputAmount       float64
	Fee                float64
	PriceImpactPercent float64
	Hops               int
	Payload            json.RawMessage
}

// jupiterRouter 封装 Jupiter v6 quote 接口。
type jupiterRouter struct {
	baseURL        string
	client         *http.Client
	inputDecimals  int
	outputDecimals int
}

func newJupiterRouter(cfg config.RoutingConfig) *jupiterRouter {
	return &jupiterRouter{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         &http.Client{Timeout: cfg.RequestTimeout},
		inputDecimals:  cfg.InputDecimals,
		outputDecimals: cfg.OutputDecimals,
	}
}

type jupiterQuoteResponse struct {
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	PlatformFee    json.RawMessage `json:"platformFee"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	ErrorCode      string          `json:"errorCode"`
	ErrorMessage   string          `json:"error"`
}

func (r *jupiterRouter) Quote(ctx context.Context, req routeRequest) (routeResponse, error) {
	atomicAmount := uint64(math.Round(req.Amount * math.Pow10(r.inputDecimals)))
	if atomicAmount == 0 {
		return routeResponse{}, fmt.Errorf("%w: 数量过小", ErrNoRoute)
	}

	params := url.Values{}
	params.Set("inputMint", req.InputToken)
	params.Set("outputMint", req.OutputToken)
	params.Set("amount", strconv.FormatUint(atomicAmount, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	endpoint := fmt.Sprintf("%s/quote?%s", r.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return routeResponse{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return routeResponse{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return routeResponse{}, fmt.Errorf("%w: http status %d", ErrNoRoute, resp.StatusCode)
	default:
		return routeResponse{}, fmt.Errorf("%w: http status %d", ErrProvider, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return routeResponse{}, fmt.Errorf("%w: 读取响应失败: %v", ErrProvider, err)
	}

	var decoded jupiterQuoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return routeResponse{}, fmt.Errorf("%w: 解析响应失败: %v", ErrProvider, err)
	}

	if decoded.ErrorCode != "" || decoded.ErrorMessage != "" {
		return routeResponse{}, fmt.Errorf("%w: %s %s", ErrNoRoute, decoded.ErrorCode, decoded.ErrorMessage)
	}

	outAtomic, err := strconv.ParseUint(decoded.OutAmount, 10, 64)
	if err != nil || outAtomic == 0 {
		return routeResponse{}, fmt.Errorf("%w: 非法输出数量 %q", ErrNoRoute, decoded.OutAmount)
	}

	impact := 0.0
	if decoded.PriceImpactPct != "" {
		if v, parseErr := strconv.ParseFloat(decoded.PriceImpactPct, 64); parseErr == nil {
			impact = v * 100 // 接口返回的是比例，转为百分比
		}
	}

	hops := 0
	if len(decoded.RoutePlan) > 0 {
		var plan []json.RawMessage
		if err := json.Unmarshal(decoded.RoutePlan, &plan); err == nil {
			hops = len(plan)
		}
	}

	return routeResponse{
		OutputAmount:       float64(outAtomic) / math.Pow10(r.outputDecimals),
		Fee:                0, // 网络费在执行层估算
		PriceImpactPercent: impact,
		Hops:               hops,
		Payload:            body,
	}, nil
}

// IsProviderError 判断错误是否为路由服务瞬时故障。
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProvider)
}
