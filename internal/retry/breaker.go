package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen 表示熔断器处于打开状态，直接快速失败，
// 不触达任何下游依赖，也不计入新的失败。
var ErrCircuitOpen = errors.New("retry: 熔断器已打开")

// Breaker 为跨请求共享的熔断器。
// 连续 Exhausted 结果达到阈值后打开，冷却期内快速失败，
// 冷却结束放行一次探测。显式注入而非全局单例，测试可各自构造隔离实例。
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

// NewBreaker 创建熔断器。
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow 判断当前是否放行。熔断打开且仍在冷却期内返回 ErrCircuitOpen。
// 冷却结束后进入半开态，半开态只放行单个探测请求，
// 探测结果落地前其余并发调用仍然快速失败。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consecutive < b.threshold {
		return nil
	}
	if b.probing {
		return ErrCircuitOpen
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		b.probing = true
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess 记录成功，清零连续失败计数并关闭熔断。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutive = 0
	b.probing = false
	b.mu.Unlock()
}

// RecordExhausted 记录一次 Exhausted 终态，达到阈值时打开熔断。
// 探测失败会重新计时冷却期。
func (b *Breaker) RecordExhausted() {
	b.mu.Lock()
	b.consecutive++
	b.probing = false
	if b.consecutive >= b.threshold {
		b.openedAt = b.now()
	}
	b.mu.Unlock()
}

// Consecutive 返回当前连续失败计数。
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
