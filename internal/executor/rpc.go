package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"sniperforge/internal/config"
)

const nativeMint = "So11111111111111111111111111111111111111112"

// TxState 表示链上交易的确认状态。
type TxState int

const (
	TxPending TxState = iota
	TxConfirmed
	TxFailed
)

// TxStatus 为一次状态查询的结果。
type TxStatus struct {
	State TxState
	Err   string
}

// rpcClient 封装 Solana JSON-RPC 接口。
type rpcClient struct {
	url        string
	commitment string
	client     *http.Client
	nextID     atomic.Uint64
}

func newRPCClient(cfg config.ExecutionConfig) *rpcClient {
	return &rpcClient{
		url:        cfg.RPCURL,
		commitment: cfg.Commitment,
		client:     &http.Client{Timeout: cfg.MaxExecutionTime},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *rpcClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("executor: 序列化RPC请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("executor: 构造RPC请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executor: RPC请求失败: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("executor: RPC http status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("executor: 解析RPC响应失败: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("executor: RPC错误 %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("executor: 解析RPC结果失败: %w", err)
		}
	}
	return nil
}

// SendTransaction 广播已签名交易，返回签名。
// maxRetries=0 禁止RPC节点自行重播，保证单次调用只产生一次提交。
func (c *rpcClient) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	var signature string
	err := c.call(ctx, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(signed),
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": c.commitment,
			"maxRetries":          0,
		},
	}, &signature)
	if err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatusResult struct {
	Value []*struct {
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

// SignatureStatus 查询交易确认状态。
func (c *rpcClient) SignatureStatus(ctx context.Context, signature string) (TxStatus, error) {
	var result signatureStatusResult
	err := c.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": false},
	}, &result)
	if err != nil {
		return TxStatus{}, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return TxStatus{State: TxPending}, nil
	}

	entry := result.Value[0]
	if len(entry.Err) > 0 && string(entry.Err) != "null" {
		return TxStatus{State: TxFailed, Err: string(entry.Err)}, nil
	}

	switch entry.ConfirmationStatus {
	case "confirmed", "finalized":
		return TxStatus{State: TxConfirmed}, nil
	default:
		return TxStatus{State: TxPending}, nil
	}
}

type transactionResult struct {
	Meta *struct {
		Fee               uint64          `json:"fee"`
		Err               json.RawMessage `json:"err"`
		PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalance struct {
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

// SettledOutput 从已确认交易中读取实际产出与已付手续费。
// 产出 = 输出代币在持有人账户上的 post - pre 余额差，手续费以 SOL 计。
func (c *rpcClient) SettledOutput(ctx context.Context, signature, owner, mint string) (float64, float64, error) {
	var result transactionResult
	err := c.call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}, &result)
	if err != nil {
		return 0, 0, err
	}
	if result.Meta == nil {
		return 0, 0, fmt.Errorf("executor: 交易 %s 缺少结算信息", signature)
	}

	pre := balanceFor(result.Meta.PreTokenBalances, owner, mint)
	post := balanceFor(result.Meta.PostTokenBalances, owner, mint)
	output := post - pre
	if output < 0 {
		output = 0
	}

	fee := float64(result.Meta.Fee) / 1e9
	return output, fee, nil
}

func balanceFor(balances []tokenBalance, owner, mint string) float64 {
	for _, b := range balances {
		if b.Owner == owner && b.Mint == mint {
			return b.UITokenAmount.UIAmount
		}
	}
	return 0
}

// TokenBalance 查询持有人的代币余额，原生 SOL 走 getBalance。
func (c *rpcClient) TokenBalance(ctx context.Context, owner, token string) (float64, error) {
	if token == "SOL" || token == nativeMint {
		var result struct {
			Value uint64 `json:"value"`
		}
		if err := c.call(ctx, "getBalance", []interface{}{owner}, &result); err != nil {
			return 0, err
		}
		return float64(result.Value) / 1e9, nil
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	err := c.call(ctx, "getTokenAccountsByOwner", []interface{}{
		owner,
		map[string]interface{}{"mint": token},
		map[string]interface{}{"encoding": "jsonParsed"},
	}, &result)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, v := range result.Value {
		total += v.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}
