package monitor

import (
	"time"

	"sniperforge/internal/pricing"
	"sniperforge/internal/quote"
	"sniperforge/internal/safety"
	"sniperforge/internal/trade"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTradeSubmitted EventType = "trade_submitted"
	EventSourceRejected EventType = "source_rejected"
	EventConsensus      EventType = "consensus"
	EventQuoteBuilt     EventType = "quote_built"
	EventSafetyDecision EventType = "safety_decision"
	EventExecution      EventType = "execution"
	EventCircuitOpen    EventType = "circuit_open"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StoredEvent 为从存储读出的事件，payload 保留原始 JSON 文本。
type StoredEvent struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeSubmittedPayload 记录新进入管线的交易请求。
type TradeSubmittedPayload struct {
	Request trade.Request `json:"request"`
	Attempt int           `json:"attempt"`
}

// SourceRejectedPayload 记录被共识层排除的价格来源报价及原因。
type SourceRejectedPayload struct {
	Pair   string `json:"pair"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// ConsensusPayload 记录通过交叉校验的共识价格。
type ConsensusPayload struct {
	RequestID string                 `json:"request_id"`
	Consensus pricing.ConsensusPrice `json:"consensus"`
}

// QuoteBuiltPayload 记录路由报价。
type QuoteBuiltPayload struct {
	RequestID string          `json:"request_id"`
	Quote     quote.SwapQuote `json:"quote"`
}

// SafetyDecisionPayload 记录安全检查结论。
type SafetyDecisionPayload struct {
	RequestID string          `json:"request_id"`
	Decision  safety.Decision `json:"decision"`
}

// ExecutionPayload 记录执行结果。
type ExecutionPayload struct {
	Result trade.Result `json:"result"`
}

// CircuitOpenPayload 记录熔断器打开。
type CircuitOpenPayload struct {
	Consecutive int `json:"consecutive"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error"`
	Context   map[string]interface{} `json:"context,omitempty"`
}
