package action

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position 描述下单或触发单的仓位参数。
type Position struct {
	Symbol       string  `mapstructure:"symbol"`
	Size         float64 `mapstructure:"size"`
	Side         Side    `mapstructure:"side"`
	ReduceOnly   bool    `mapstructure:"reduce_only"`
	TriggerPrice float64 `mapstructure:"trigger_price"`
}

// Metadata 携带信号来源与执行偏好。除 ServerExecution 外均为参考信息，
// 无法转换的字段置零并记录在 Ignored 中。
type Metadata struct {
	EventID         string
	AgentID         string
	StrategyID      string
	Timestamp       string
	Price           float64
	Leverage        float64
	SourceWallet    string
	ServerExecution bool
	Ignored         []string
}

// TradeRequest 为开平仓动作的结构化视图。
type TradeRequest struct {
	Position Position
	Metadata Metadata
}

// TriggerRequest 为止损止盈动作的结构化视图。
type TriggerRequest struct {
	Position Position
	Metadata Metadata
}

type positionPayload struct {
	Position Position `mapstructure:"position"`
}

// DecodeTrade 解析并校验下单参数，数值字段允许以字符串形式出现。
func DecodeTrade(cfg Config) (TradeRequest, error) {
	pos, err := decodePosition(cfg)
	if err != nil {
		return TradeRequest{}, err
	}
	if err := pos.validateBase(); err != nil {
		return TradeRequest{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	meta, err := decodeMetadata(cfg)
	if err != nil {
		return TradeRequest{}, err
	}
	return TradeRequest{Position: pos, Metadata: meta}, nil
}

// DecodeTrigger 解析并校验止损止盈参数。
func DecodeTrigger(cfg Config) (TriggerRequest, error) {
	pos, err := decodePosition(cfg)
	if err != nil {
		return TriggerRequest{}, err
	}

	err = pos.validateBase()
	if pos.TriggerPrice <= 0 {
		err = multierr.Append(err, errors.New("position.trigger_price 必须大于0"))
	}
	if err != nil {
		return TriggerRequest{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// 触发单不依赖 metadata，解析失败只记录。
	meta, err := decodeMetadata(cfg)
	if err != nil {
		meta = Metadata{Ignored: []string{"metadata"}}
	}
	return TriggerRequest{Position: pos, Metadata: meta}, nil
}

// SymbolOf 尽力从原始参数中取出交易标的，用于日志上下文。
func SymbolOf(cfg Config) string {
	if cfg == nil {
		return ""
	}
	position, err := cast.ToStringMapE(cfg["position"])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(position["symbol"]))
}

func decodePosition(cfg Config) (Position, error) {
	var payload positionPayload
	if err := decode(cfg, &payload); err != nil {
		return Position{}, err
	}
	payload.Position.normalize()
	return payload.Position, nil
}

// decodeMetadata 只对 server_execution 严格校验，其余字段尽力转换。
func decodeMetadata(cfg Config) (Metadata, error) {
	raw, ok := cfg["metadata"]
	if !ok || raw == nil {
		return Metadata{}, nil
	}
	fields, err := cast.ToStringMapE(raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata 必须为对象", ErrInvalidConfig)
	}

	var meta Metadata
	if v, ok := fields["server_execution"]; ok {
		flag, err := cast.ToBoolE(v)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: metadata.server_execution 无法解析为布尔值: %v", ErrInvalidConfig, v)
		}
		meta.ServerExecution = flag
	}

	lenientString(fields, "event_id", &meta.EventID, &meta.Ignored)
	lenientString(fields, "agent_id", &meta.AgentID, &meta.Ignored)
	lenientString(fields, "strategy_id", &meta.StrategyID, &meta.Ignored)
	lenientString(fields, "timestamp", &meta.Timestamp, &meta.Ignored)
	lenientString(fields, "source_wallet", &meta.SourceWallet, &meta.Ignored)
	lenientFloat(fields, "price", &meta.Price, &meta.Ignored)
	lenientFloat(fields, "leverage", &meta.Leverage, &meta.Ignored)
	return meta, nil
}

func lenientString(fields map[string]any, key string, out *string, ignored *[]string) {
	v, ok := fields[key]
	if !ok || v == nil {
		return
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		*ignored = append(*ignored, "metadata."+key)
		return
	}
	*out = strings.TrimSpace(s)
}

func lenientFloat(fields map[string]any, key string, out *float64, ignored *[]string) {
	v, ok := fields[key]
	if !ok || v == nil {
		return
	}
	if s, isString := v.(string); isString {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		*ignored = append(*ignored, "metadata."+key)
		return
	}
	*out = f
}

func decode(cfg Config, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("action: 创建解码器失败: %w", err)
	}
	if err := decoder.Decode(map[string]any(cfg)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (p *Position) normalize() {
	p.Symbol = strings.TrimSpace(p.Symbol)
	p.Side = Side(strings.ToUpper(strings.TrimSpace(string(p.Side))))
}

func (p Position) validateBase() error {
	var err error
	if p.Symbol == "" {
		err = multierr.Append(err, errors.New("position.symbol 不能为空"))
	}
	if p.Size <= 0 {
		err = multierr.Append(err, errors.New("position.size 必须大于0"))
	}
	if p.Side != SideBuy && p.Side != SideSell {
		err = multierr.Append(err, fmt.Errorf("position.side 必须为 BUY 或 SELL，当前为 %q", string(p.Side)))
	}
	return err
}
