package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sniperforge/internal/config"
	"sniperforge/internal/quote"
)

// jupiterSwapBuilder 通过路由聚合商的 swap 接口把报价转成可签名交易。
type jupiterSwapBuilder struct {
	baseURL string
	client  *http.Client
}

func newJupiterSwapBuilder(cfg config.RoutingConfig) *jupiterSwapBuilder {
	return &jupiterSwapBuilder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildSwapTransaction 换取 base64 序列化的未签名交易。
func (b *jupiterSwapBuilder) BuildSwapTransaction(ctx context.Context, q quote.SwapQuote, owner string) ([]byte, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:    q.RoutePayload,
		UserPublicKey:    owner,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 序列化swap请求失败: %v", ErrSubmitFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: swap http status %d", ErrSubmitFailed, resp.StatusCode)
	}

	var decoded swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: 解析swap响应失败: %v", ErrSubmitFailed, err)
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.SwapTransaction)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: 非法的交易载荷", ErrSubmitFailed)
	}

	return raw, nil
}
