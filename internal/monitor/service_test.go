package monitor

import (
	"context"
	"testing"
	"time"

	"sniperforge/internal/config"
	"sniperforge/internal/store"
	"sniperforge/internal/trade"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	sqliteStore, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	svc, err := NewService(sqliteStore, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordAndListEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordSourceRejected(ctx, "SOL/USDC", "dexscreener", "报价超过新鲜度窗口")
	svc.RecordCircuitOpen(ctx, 3)

	events, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// 倒序返回，最新在前
	if events[0].Type != EventCircuitOpen {
		t.Errorf("expected newest event first, got %s", events[0].Type)
	}

	filtered, err := svc.ListEvents(ctx, EventSourceRejected, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Type != EventSourceRejected {
		t.Fatalf("expected filtered source_rejected event, got %+v", filtered)
	}
}

func TestService_TradeResultRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result := trade.Result{
		RequestID:    "req-1",
		Status:       trade.StatusExecuted,
		TxSignature:  "sig-1",
		ActualOutput: 149.5,
		FeePaid:      0.000005,
		Attempts:     2,
		FinishedAt:   time.Now().UTC(),
	}
	if err := svc.RecordTradeResult(ctx, result); err != nil {
		t.Fatalf("RecordTradeResult returned error: %v", err)
	}

	trades, err := svc.ListTrades(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrades returned error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	got := trades[0]
	if got.RequestID != result.RequestID || got.Status != result.Status {
		t.Errorf("unexpected trade %+v", got)
	}
	if got.ActualOutput != result.ActualOutput || got.Attempts != result.Attempts {
		t.Errorf("unexpected trade fields %+v", got)
	}
}

func TestService_TradeResultUpsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := trade.Result{
		RequestID:  "req-1",
		Status:     trade.StatusFailed,
		Attempts:   1,
		FinishedAt: time.Now().UTC(),
	}
	if err := svc.RecordTradeResult(ctx, first); err != nil {
		t.Fatalf("RecordTradeResult returned error: %v", err)
	}

	final := first
	final.Status = trade.StatusExecuted
	final.Attempts = 2
	if err := svc.RecordTradeResult(ctx, final); err != nil {
		t.Fatalf("RecordTradeResult returned error: %v", err)
	}

	trades, err := svc.ListTrades(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrades returned error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected single row per request, got %d", len(trades))
	}
	if trades[0].Status != trade.StatusExecuted || trades[0].Attempts != 2 {
		t.Errorf("expected final result to win, got %+v", trades[0])
	}
}
