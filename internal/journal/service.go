package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fractrade-executor/internal/action"
	"fractrade-executor/internal/execution"
	"fractrade-executor/internal/feed"
	"fractrade-executor/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS action_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	action_id TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_events_type ON action_events(event_type);
`

// Service 负责持久化动作处理结果。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ feed.Recorder = (*Service)(nil)

// NewService 初始化动作日志，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, "action_events", schema); err != nil {
		return nil, err
	}

	return &Service{
		db:     st.DB(),
		logger: logger.Named("journal"),
	}, nil
}

// RecordOutcome 实现 feed.Recorder，写入失败只记录日志。
func (s *Service) RecordOutcome(ctx context.Context, outcome feed.Outcome) {
	event := Event{
		Type:      Classify(outcome),
		Timestamp: outcome.ReceivedAt,
		Payload:   newOutcomePayload(outcome),
	}
	if err := s.Record(ctx, outcome.ActionID, outcome.Symbol, event); err != nil {
		s.logger.Warn("记录动作结果失败",
			zap.String("action_id", outcome.ActionID),
			zap.Error(err),
		)
	}
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, actionID, symbol string, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_events (event_type, action_id, symbol, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), actionID, symbol, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM action_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}

// Classify 根据处理结果确定事件类型。
func Classify(outcome feed.Outcome) EventType {
	if outcome.Err == nil {
		if outcome.Confirmation.Status == action.StatusDelegated {
			return EventDelegated
		}
		return EventExecuted
	}

	var cfgErr *execution.ConfigurationError
	switch {
	case errors.Is(outcome.Err, action.ErrUnknownAction),
		errors.Is(outcome.Err, action.ErrInvalidConfig),
		errors.As(outcome.Err, &cfgErr):
		return EventRejected
	default:
		return EventFailed
	}
}

func newOutcomePayload(outcome feed.Outcome) OutcomePayload {
	payload := OutcomePayload{
		SessionID:  outcome.SessionID,
		ActionID:   outcome.ActionID,
		Symbol:     outcome.Symbol,
		Config:     outcome.Config,
		DurationMS: outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		payload.Error = outcome.Err.Error()
	} else {
		conf := outcome.Confirmation
		payload.Confirmation = &conf
	}
	return payload
}
