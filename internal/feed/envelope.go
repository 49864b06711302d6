package feed

import (
	"encoding/json"
	"strings"

	"fractrade-executor/internal/action"
)

// MessageTypeAction 是唯一会被处理的消息类型。
const MessageTypeAction = "ACTION"

// Envelope 为一次入站指令，仅在单次分发中使用。
type Envelope struct {
	Type     string
	ActionID string
	Config   action.Config
}

type wireFrame struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireAction struct {
	ActionID *string       `json:"action_id"`
	Config   action.Config `json:"config"`
}

// DecodeEnvelope 解析消息帧。非 ACTION 类型的帧返回 Type 而不解析 data。
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var wire wireFrame
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if wire.Type == nil || strings.TrimSpace(*wire.Type) == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}

	env := Envelope{Type: strings.ToUpper(strings.TrimSpace(*wire.Type))}
	if env.Type != MessageTypeAction {
		return env, nil
	}

	if len(wire.Data) == 0 || string(wire.Data) == "null" {
		return Envelope{}, &DecodeError{Reason: "missing data"}
	}

	var data wireAction
	if err := json.Unmarshal(wire.Data, &data); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid data", Err: err}
	}
	if data.ActionID == nil || strings.TrimSpace(*data.ActionID) == "" {
		return Envelope{}, &DecodeError{Reason: "missing data.action_id"}
	}

	env.ActionID = *data.ActionID
	env.Config = data.Config
	if env.Config == nil {
		env.Config = action.Config{}
	}
	return env, nil
}
