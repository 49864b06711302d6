package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ID 标识推送端下发的动作类型。
type ID string

const (
	ExecutePerpTrade  ID = "execute_hyperliquid_perp_trade"
	SetPerpStopLoss   ID = "set_hyperliquid_perp_stop_loss"
	SetPerpTakeProfit ID = "set_hyperliquid_perp_take_profit"
)

var (
	// ErrUnknownAction 表示 action_id 不在已知集合中。
	ErrUnknownAction = errors.New("action: unknown action id")
	// ErrInvalidConfig 表示动作参数缺失或不合法。
	ErrInvalidConfig = errors.New("action: invalid config")
)

// ParseID 忽略大小写匹配已知动作。
func ParseID(raw string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	switch id {
	case ExecutePerpTrade, SetPerpStopLoss, SetPerpTakeProfit:
		return id, true
	default:
		return id, false
	}
}

// Config 为动作的原始参数，结构由交易所侧定义。
type Config map[string]any

// Mode 区分服务端代执行与本地执行。
type Mode string

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
)

const (
	// StatusDelegated 表示订单交由服务端执行。
	StatusDelegated = "delegated"
	// StatusSubmitted 表示订单已在本地提交至交易所。
	StatusSubmitted = "submitted"
)

// Confirmation 为处理器返回的执行确认。
type Confirmation struct {
	Mode         Mode    `json:"mode"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side,omitempty"`
	Size         float64 `json:"size,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	OrderID      string  `json:"order_id,omitempty"`
	Status       string  `json:"status"`
}

// Handler 由嵌入方实现，每个方法对应一种动作。
type Handler interface {
	HandleTrade(ctx context.Context, cfg Config) (Confirmation, error)
	HandleSetStopLoss(ctx context.Context, cfg Config) (Confirmation, error)
	HandleSetTakeProfit(ctx context.Context, cfg Config) (Confirmation, error)
}

// Dispatch 将动作路由到对应的处理方法，仅调用一次。
func Dispatch(ctx context.Context, h Handler, id ID, cfg Config) (Confirmation, error) {
	if cfg == nil {
		cfg = Config{}
	}
	switch id {
	case ExecutePerpTrade:
		return h.HandleTrade(ctx, cfg)
	case SetPerpStopLoss:
		return h.HandleSetStopLoss(ctx, cfg)
	case SetPerpTakeProfit:
		return h.HandleSetTakeProfit(ctx, cfg)
	default:
		return Confirmation{}, fmt.Errorf("%w: %q", ErrUnknownAction, string(id))
	}
}
