package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/pricing"
	"sniperforge/internal/quote"
	"sniperforge/internal/safety"
	"sniperforge/internal/store"
	"sniperforge/internal/trade"
)

// Service 负责持久化监控事件与交易历史。
// 写入失败只降级为日志告警，监控故障不能阻断交易管线。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);

CREATE TABLE IF NOT EXISTS trade_results (
	request_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	tx_signature TEXT,
	actual_output REAL,
	fee_paid REAL,
	rejection_reason TEXT,
	attempts INTEGER NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_results_status ON trade_results(status);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordTradeSubmitted 记录交易请求进入管线。
func (s *Service) RecordTradeSubmitted(ctx context.Context, req trade.Request, attempt int) {
	if err := s.Record(ctx, Event{
		Type:      EventTradeSubmitted,
		Timestamp: time.Now().UTC(),
		Payload:   TradeSubmittedPayload{Request: req, Attempt: attempt},
	}); err != nil {
		s.logger.Warn("记录交易提交事件失败", zap.Error(err))
	}
}

// RecordSourceRejected 记录被共识层排除的价格来源报价。
// 签名与 pricing.RejectionSink 对齐，Service 可直接挂到校验器上。
func (s *Service) RecordSourceRejected(ctx context.Context, pair, source, reason string) {
	if err := s.Record(ctx, Event{
		Type:      EventSourceRejected,
		Timestamp: time.Now().UTC(),
		Payload:   SourceRejectedPayload{Pair: pair, Source: source, Reason: reason},
	}); err != nil {
		s.logger.Warn("记录来源排除事件失败", zap.Error(err))
	}
}

// RecordConsensus 记录共识价格。
func (s *Service) RecordConsensus(ctx context.Context, requestID string, consensus pricing.ConsensusPrice) {
	if err := s.Record(ctx, Event{
		Type:      EventConsensus,
		Timestamp: time.Now().UTC(),
		Payload:   ConsensusPayload{RequestID: requestID, Consensus: consensus},
	}); err != nil {
		s.logger.Warn("记录共识价格事件失败", zap.Error(err))
	}
}

// RecordQuoteBuilt 记录路由报价。
func (s *Service) RecordQuoteBuilt(ctx context.Context, requestID string, q quote.SwapQuote) {
	if err := s.Record(ctx, Event{
		Type:      EventQuoteBuilt,
		Timestamp: time.Now().UTC(),
		Payload:   QuoteBuiltPayload{RequestID: requestID, Quote: q},
	}); err != nil {
		s.logger.Warn("记录报价事件失败", zap.Error(err))
	}
}

// RecordSafetyDecision 记录安全检查结论。
func (s *Service) RecordSafetyDecision(ctx context.Context, requestID string, decision safety.Decision) {
	if err := s.Record(ctx, Event{
		Type:      EventSafetyDecision,
		Timestamp: time.Now().UTC(),
		Payload:   SafetyDecisionPayload{RequestID: requestID, Decision: decision},
	}); err != nil {
		s.logger.Warn("记录安全检查事件失败", zap.Error(err))
	}
}

// RecordExecution 记录执行结果事件。
func (s *Service) RecordExecution(ctx context.Context, result trade.Result) {
	if err := s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: time.Now().UTC(),
		Payload:   ExecutionPayload{Result: result},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordCircuitOpen 记录熔断器打开。
func (s *Service) RecordCircuitOpen(ctx context.Context, consecutive int) {
	if err := s.Record(ctx, Event{
		Type:      EventCircuitOpen,
		Timestamp: time.Now().UTC(),
		Payload:   CircuitOpenPayload{Consecutive: consecutive},
	}); err != nil {
		s.logger.Warn("记录熔断事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, requestID, message string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   ErrorPayload{RequestID: requestID, Message: message, Error: errText},
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// RecordTradeResult 将终态结果落入交易历史表。同一请求只保留最终一条。
func (s *Service) RecordTradeResult(ctx context.Context, result trade.Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trade_results
			(request_id, status, tx_signature, actual_output, fee_paid, rejection_reason, attempts, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RequestID,
		string(result.Status),
		result.TxSignature,
		result.ActualOutput,
		result.FeePaid,
		result.RejectionReason,
		result.Attempts,
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入交易历史失败: %w", err)
	}
	return nil
}

// ListEvents 按时间倒序返回最近的事件，eventType 为空时不过滤。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			event   StoredEvent
			created string
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.Payload, &created); err != nil {
			return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
			event.Timestamp = ts
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListTrades 按完成时间倒序返回最近的交易终态。
func (s *Service) ListTrades(ctx context.Context, limit int) ([]trade.Result, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, status, tx_signature, actual_output, fee_paid, rejection_reason, attempts, finished_at
		 FROM trade_results ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询交易历史失败: %w", err)
	}
	defer rows.Close()

	var results []trade.Result
	for rows.Next() {
		var (
			result   trade.Result
			status   string
			finished string
		)
		if err := rows.Scan(
			&result.RequestID, &status, &result.TxSignature,
			&result.ActualOutput, &result.FeePaid, &result.RejectionReason,
			&result.Attempts, &finished,
		); err != nil {
			return nil, fmt.Errorf("monitor: 读取交易历史失败: %w", err)
		}
		result.Status = trade.Status(status)
		if ts, parseErr := time.Parse(time.RFC3339Nano, finished); parseErr == nil {
			result.FinishedAt = ts
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
