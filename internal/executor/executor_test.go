package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sniperforge/internal/config"
	"sniperforge/internal/quote"
	"sniperforge/internal/trade"
)

type fakeWallet struct {
	address string
}

func (w *fakeWallet) Address() string { return w.address }

func (w *fakeWallet) SignTransaction(_ context.Context, raw []byte) ([]byte, error) {
	return raw, nil
}

func (w *fakeWallet) Balance(_ context.Context, _ string) (float64, error) {
	return 100, nil
}

type fakeBuilder struct {
	err   error
	calls int
}

func (b *fakeBuilder) BuildSwapTransaction(_ context.Context, _ quote.SwapQuote, _ string) ([]byte, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return []byte("raw-tx"), nil
}

type fakeChain struct {
	mu           sync.Mutex
	sendErr      error
	status       TxStatus
	statusErr    error
	settled      float64
	fee          float64
	sends        int
	inFlight     int
	maxInFlight  int
	settleDelay  time.Duration
	neverConfirm bool
}

func (c *fakeChain) SendTransaction(_ context.Context, _ []byte) (string, error) {
	c.mu.Lock()
	c.sends++
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	if c.settleDelay > 0 {
		time.Sleep(c.settleDelay)
	}

	c.mu.Lock()
	c.inFlight--
	err := c.sendErr
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	return "sig-1", nil
}

func (c *fakeChain) SignatureStatus(_ context.Context, _ string) (TxStatus, error) {
	if c.statusErr != nil {
		return TxStatus{}, c.statusErr
	}
	if c.neverConfirm {
		return TxStatus{State: TxPending}, nil
	}
	return c.status, nil
}

func (c *fakeChain) SettledOutput(_ context.Context, _, _, _ string) (float64, float64, error) {
	return c.settled, c.fee, nil
}

func executionConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		RPCURL:           "http://localhost",
		Commitment:       "confirmed",
		MaxExecutionTime: 60 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}
}

func validQuote(now time.Time) quote.SwapQuote {
	return quote.SwapQuote{
		InputToken:      "SOL",
		OutputToken:     "USDC",
		InputAmount:     1.0,
		ExpectedOutput:  150.0,
		ConsensusAnchor: 150.0,
		BuiltAt:         now,
		ExpiresAt:       now.Add(time.Second),
	}
}

func execRequest() trade.Request {
	return trade.Request{
		ID:                 "req-1",
		Wallet:             "wallet-1",
		InputToken:         "SOL",
		OutputToken:        "USDC",
		Amount:             1.0,
		MaxSlippagePercent: 1.0,
	}
}

func TestExecute_RefusesExpiredQuote(t *testing.T) {
	builder := &fakeBuilder{}
	chain := &fakeChain{}
	exec := newExecutor(executionConfig(), builder, chain, &fakeWallet{address: "w"}, nil)

	q := validQuote(time.Now().Add(-2 * time.Second))
	q.ExpiresAt = time.Now().Add(-time.Second)

	_, err := exec.Execute(context.Background(), q, execRequest())
	if !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired, got %v", err)
	}
	if builder.calls != 0 || chain.sends != 0 {
		t.Errorf("expired quote must not reach the chain: builds=%d sends=%d", builder.calls, chain.sends)
	}
}

func TestExecute_SuccessfulSettlement(t *testing.T) {
	chain := &fakeChain{
		status:  TxStatus{State: TxConfirmed},
		settled: 149.5,
		fee:     0.000005,
	}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	result, err := exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != trade.StatusExecuted {
		t.Fatalf("expected executed, got %s (%s)", result.Status, result.RejectionReason)
	}
	if result.TxSignature != "sig-1" {
		t.Errorf("unexpected signature %q", result.TxSignature)
	}
	if result.ActualOutput != 149.5 {
		t.Errorf("unexpected actual output %f", result.ActualOutput)
	}
	if chain.sends != 1 {
		t.Errorf("expected exactly one submission, got %d", chain.sends)
	}
}

func TestExecute_SettlementSlippageExceeded(t *testing.T) {
	// 实际产出偏离预期 2%，超过请求的 1% 上限，视为失败而非成功
	chain := &fakeChain{
		status:  TxStatus{State: TxConfirmed},
		settled: 147.0,
	}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	result, err := exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != trade.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ActualOutput != 147.0 {
		t.Errorf("result must carry the actual settlement, got %f", result.ActualOutput)
	}
	if result.TxSignature == "" {
		t.Errorf("result must carry the signature even on settlement failure")
	}
}

func TestExecute_OnChainFailure(t *testing.T) {
	chain := &fakeChain{
		status: TxStatus{State: TxFailed, Err: "custom program error"},
	}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	result, err := exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != trade.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestExecute_SubmitFailureIsTransient(t *testing.T) {
	chain := &fakeChain{sendErr: errors.New("connection refused")}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	_, err := exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("submit failures must be retryable")
	}
}

func TestExecute_ConfirmationTimeoutIsIndeterminate(t *testing.T) {
	chain := &fakeChain{neverConfirm: true}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	started := time.Now()
	_, err := exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	elapsed := time.Since(started)

	if !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed, got %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("gave up before the confirmation window elapsed: %v", elapsed)
	}
	if chain.sends != 1 {
		t.Errorf("timeout must not trigger another submission, got %d", chain.sends)
	}
}

func TestExecute_QuoteExpiringDuringLockWaitIsRefused(t *testing.T) {
	chain := &fakeChain{
		status:      TxStatus{State: TxConfirmed},
		settled:     150.0,
		settleDelay: 120 * time.Millisecond,
	}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
	}()

	// 等首笔交易拿到钱包锁
	time.Sleep(20 * time.Millisecond)

	// 次笔报价在排队等锁期间过期
	q := validQuote(time.Now())
	q.ExpiresAt = time.Now().Add(30 * time.Millisecond)

	_, err := exec.Execute(context.Background(), q, execRequest())
	<-first

	if !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired after waiting on the wallet lock, got %v", err)
	}
	if chain.sends != 1 {
		t.Errorf("expired quote must not be submitted, got %d sends", chain.sends)
	}
}

func TestExecute_SerializesPerWallet(t *testing.T) {
	chain := &fakeChain{
		status:      TxStatus{State: TxConfirmed},
		settled:     150.0,
		settleDelay: 20 * time.Millisecond,
	}
	exec := newExecutor(executionConfig(), &fakeBuilder{}, chain, &fakeWallet{address: "w"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = exec.Execute(context.Background(), validQuote(time.Now()), execRequest())
		}()
	}
	wg.Wait()

	if chain.maxInFlight != 1 {
		t.Errorf("expected same-wallet submissions to be serialized, max in flight = %d", chain.maxInFlight)
	}
}
