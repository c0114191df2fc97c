package retry

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordExhausted()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker opened too early after %d failures: %v", i+1, err)
		}
	}

	b.RecordExhausted()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold, got %v", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	b.RecordExhausted()
	b.RecordExhausted()
	b.RecordSuccess()

	if got := b.Consecutive(); got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}

	b.RecordExhausted()
	b.RecordExhausted()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker must not open below threshold: %v", err)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return now }

	b.RecordExhausted()
	b.RecordExhausted()

	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	// 冷却期内仍然打开
	now = now.Add(10 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected breaker to stay open within cooldown, got %v", err)
	}

	// 冷却结束后放行探测
	now = now.Add(25 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe after cooldown, got %v", err)
	}

	b.RecordSuccess()
	if err := b.Allow(); err != nil {
		t.Fatalf("expected breaker closed after successful probe, got %v", err)
	}
}

func TestBreaker_HalfOpenAdmitsSingleCaller(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, 30*time.Second)
	b.now = func() time.Time { return now }

	b.RecordExhausted()
	b.RecordExhausted()
	now = now.Add(31 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected first caller admitted as probe, got %v", err)
	}
	// 探测结果落地前，后续并发调用仍然快速失败
	for i := 0; i < 3; i++ {
		if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("expected concurrent caller %d to fail fast, got %v", i, err)
		}
	}

	// 探测失败重新计时冷却期
	b.RecordExhausted()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected breaker to reopen after failed probe, got %v", err)
	}

	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected new probe after another cooldown, got %v", err)
	}
	b.RecordSuccess()

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("expected breaker closed after successful probe, got %v", err)
		}
	}
}
