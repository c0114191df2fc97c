package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"sniperforge/internal/config"
)

type stubBalances struct {
	balance float64
}

func (s *stubBalances) TokenBalance(_ context.Context, _, _ string) (float64, error) {
	return s.balance, nil
}

func writeKeypairFile(t *testing.T, priv ed25519.PrivateKey) string {
	t.Helper()

	numbers := make([]int, len(priv))
	for i, b := range priv {
		numbers[i] = int(b)
	}
	raw, err := json.Marshal(numbers)
	if err != nil {
		t.Fatalf("序列化密钥失败: %v", err)
	}

	path := filepath.Join(t.TempDir(), "keypair.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("写入密钥文件失败: %v", err)
	}
	return path
}

func TestNewLocalWallet_LoadsKeypairFile(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}

	w, err := NewLocalWallet(config.WalletConfig{
		Address:     "wallet-1",
		KeypairPath: writeKeypairFile(t, priv),
	}, &stubBalances{balance: 5})
	if err != nil {
		t.Fatalf("NewLocalWallet returned error: %v", err)
	}

	if w.Address() != "wallet-1" {
		t.Errorf("unexpected address %q", w.Address())
	}

	balance, err := w.Balance(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if balance != 5 {
		t.Errorf("unexpected balance %f", balance)
	}

	// 单签名者交易：[1][64字节空签名槽][消息]
	message := []byte("transfer-message")
	raw := make([]byte, 1+ed25519.SignatureSize+len(message))
	raw[0] = 1
	copy(raw[1+ed25519.SignatureSize:], message)

	signed, err := w.SignTransaction(context.Background(), raw)
	if err != nil {
		t.Fatalf("SignTransaction returned error: %v", err)
	}

	sig := signed[1 : 1+ed25519.SignatureSize]
	if !ed25519.Verify(pub, message, sig) {
		t.Errorf("signature does not verify against the message")
	}
}

func TestNewLocalWallet_RejectsBadKeyLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keypair.json")
	if err := os.WriteFile(path, []byte("[1,2,3]"), 0o600); err != nil {
		t.Fatalf("写入密钥文件失败: %v", err)
	}

	_, err := NewLocalWallet(config.WalletConfig{
		Address:     "wallet-1",
		KeypairPath: path,
	}, &stubBalances{})
	if err == nil {
		t.Fatalf("expected error for short keypair")
	}
}

func TestSignTransaction_RejectsTruncatedPayload(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}

	w, err := NewLocalWallet(config.WalletConfig{
		Address:     "wallet-1",
		KeypairPath: writeKeypairFile(t, priv),
	}, &stubBalances{})
	if err != nil {
		t.Fatalf("NewLocalWallet returned error: %v", err)
	}

	if _, err := w.SignTransaction(context.Background(), []byte{1, 2}); err == nil {
		t.Fatalf("expected error for truncated transaction")
	}
}
