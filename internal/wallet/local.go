package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"sniperforge/internal/config"
)

// LocalWallet 基于本地密钥文件的签名实现，密钥文件为 Solana CLI 的
// 64 字节 JSON 数组格式。
type LocalWallet struct {
	address  string
	priv     ed25519.PrivateKey
	balances BalanceSource
}

// NewLocalWallet 从密钥文件加载签名钱包。
func NewLocalWallet(cfg config.WalletConfig, balances BalanceSource) (*LocalWallet, error) {
	if cfg.Address == "" {
		return nil, errors.New("wallet: 地址不能为空")
	}
	if balances == nil {
		return nil, errors.New("wallet: 余额来源不能为空")
	}

	raw, err := os.ReadFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("wallet: 读取密钥文件失败: %w", err)
	}

	// 密钥文件为 JSON 数字数组而非 base64 字符串
	var numbers []int
	if err := json.Unmarshal(raw, &numbers); err != nil {
		return nil, fmt.Errorf("wallet: 解析密钥文件失败: %w", err)
	}
	if len(numbers) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: 密钥长度非法 %d", len(numbers))
	}

	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, n := range numbers {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("wallet: 密钥字节越界 %d", n)
		}
		priv[i] = byte(n)
	}

	return &LocalWallet{
		address:  cfg.Address,
		priv:     priv,
		balances: balances,
	}, nil
}

// Address 返回钱包地址。
func (w *LocalWallet) Address() string {
	return w.address
}

// SignTransaction 对未签名交易签名并填入第一个签名槽位。
// 交易布局为 [签名数量][签名...][消息]，这里只支持单签名者。
func (w *LocalWallet) SignTransaction(_ context.Context, raw []byte) ([]byte, error) {
	if len(raw) < 1+ed25519.SignatureSize {
		return nil, errors.New("wallet: 交易数据过短")
	}

	sigCount := int(raw[0])
	if sigCount < 1 || sigCount > 0x7f {
		return nil, fmt.Errorf("wallet: 不支持的签名数量 %d", sigCount)
	}

	messageStart := 1 + sigCount*ed25519.SignatureSize
	if len(raw) <= messageStart {
		return nil, errors.New("wallet: 交易缺少消息体")
	}

	signed := make([]byte, len(raw))
	copy(signed, raw)

	sig := ed25519.Sign(w.priv, raw[messageStart:])
	copy(signed[1:1+ed25519.SignatureSize], sig)

	return signed, nil
}

// Balance 查询指定代币余额。
func (w *LocalWallet) Balance(ctx context.Context, token string) (float64, error) {
	return w.balances.TokenBalance(ctx, w.address, token)
}
