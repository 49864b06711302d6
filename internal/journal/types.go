package journal

import (
	"time"

	"fractrade-executor/internal/action"
)

// EventType 表示动作日志的结果类型。
type EventType string

const (
	EventExecuted  EventType = "executed"
	EventDelegated EventType = "delegated"
	EventFailed    EventType = "failed"
	EventRejected  EventType = "rejected"
)

// ParseEventType 校验查询参数中的事件类型，空字符串表示不过滤。
func ParseEventType(raw string) (EventType, bool) {
	switch t := EventType(raw); t {
	case "", EventExecuted, EventDelegated, EventFailed, EventRejected:
		return t, true
	default:
		return t, false
	}
}

// Event 为一条持久化的动作记录。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OutcomePayload 记录一次动作的输入与结果。
type OutcomePayload struct {
	SessionID    string               `json:"session_id"`
	ActionID     string               `json:"action_id"`
	Symbol       string               `json:"symbol,omitempty"`
	Config       action.Config        `json:"config"`
	Confirmation *action.Confirmation `json:"confirmation,omitempty"`
	Error        string               `json:"error,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
}
