package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sniperforge/internal/config"
)

// StreamSource 为 WebSocket 流式价格来源。
// 后台读循环只保留每个交易对的最新一笔推送，FetchPrice 仅在该推送仍处于
// 新鲜度窗口内时返回，超窗即视为无数据。这是传输层的暂存，不构成价格缓存：
// 过期推送永远不会被使用。
type StreamSource struct {
	name   string
	url    string
	pairs  []string
	maxAge time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	ticks map[string]PriceQuote

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamSource 创建流式来源，调用 Start 后开始接收推送。
func NewStreamSource(cfg config.SourceConfig, maxAge time.Duration, logger *zap.Logger) *StreamSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamSource{
		name:   cfg.Name,
		url:    cfg.URL,
		pairs:  cfg.Pairs,
		maxAge: maxAge,
		logger: logger,
		ticks:  make(map[string]PriceQuote),
	}
}

// Name 返回来源名称。
func (s *StreamSource) Name() string {
	return s.name
}

// Start 建立连接并启动后台读循环，断线自动重连。
func (s *StreamSource) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Close 停止后台读循环。
func (s *StreamSource) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *StreamSource) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("价格流连接中断，准备重连",
				zap.String("source", s.name),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

type subscribeMessage struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

type tickMessage struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
}

func (s *StreamSource) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("pricing: 连接价格流失败: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if len(s.pairs) > 0 {
		if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Pairs: s.pairs}); err != nil {
			return fmt.Errorf("pricing: 订阅价格流失败: %w", err)
		}
	}

	s.logger.Info("价格流已连接", zap.String("source", s.name), zap.String("url", s.url))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var tick tickMessage
		if err := json.Unmarshal(message, &tick); err != nil || tick.Pair == "" || tick.Price <= 0 {
			continue
		}

		s.storeTick(PriceQuote{
			Pair:       tick.Pair,
			Price:      tick.Price,
			Source:     s.name,
			ObservedAt: time.Now(),
		})
	}
}

func (s *StreamSource) storeTick(quote PriceQuote) {
	s.mu.Lock()
	s.ticks[quote.Pair] = quote
	s.mu.Unlock()
}

// FetchPrice 返回最近一笔推送。推送超过新鲜度窗口时报告不可用，
// 由共识层将本来源排除。
func (s *StreamSource) FetchPrice(ctx context.Context, pair string) (PriceQuote, error) {
	s.mu.RLock()
	tick, ok := s.ticks[pair]
	s.mu.RUnlock()

	if !ok {
		return PriceQuote{}, newSourceError(s.name, SourceUnavailable, fmt.Errorf("暂无 %s 的推送", pair))
	}

	if age := tick.Age(time.Now()); age > s.maxAge {
		return PriceQuote{}, newSourceError(s.name, SourceUnavailable, fmt.Errorf("%s 的推送已过期 %s", pair, age))
	}

	return tick, nil
}
