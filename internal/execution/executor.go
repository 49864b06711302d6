package execution

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"fractrade-executor/internal/action"
	"fractrade-executor/internal/exchange"
)

// Executor 是默认的动作处理器，将推送的动作转换为 Hyperliquid 下单。
type Executor struct {
	exchange Exchange
	logger   *zap.Logger
}

var _ action.Handler = (*Executor)(nil)

// NewExecutor 创建执行器。ex 为 nil 表示未配置凭证，仅能处理服务端代执行的交易。
func NewExecutor(ex Exchange, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		exchange: ex,
		logger:   logger.Named("executor"),
	}
}

// HandleTrade 处理开平仓动作。
func (e *Executor) HandleTrade(ctx context.Context, cfg action.Config) (action.Confirmation, error) {
	req, err := action.DecodeTrade(cfg)
	if err != nil {
		return action.Confirmation{}, err
	}
	pos, meta := req.Position, req.Metadata
	if len(meta.Ignored) > 0 {
		e.logger.Debug("忽略无法解析的 metadata 字段", zap.Strings("fields", meta.Ignored))
	}

	e.logger.Info("收到交易信号",
		zap.String("symbol", pos.Symbol),
		zap.Float64("size", pos.Size),
		zap.String("side", string(pos.Side)),
		zap.Bool("reduce_only", pos.ReduceOnly),
		zap.Float64("price", meta.Price),
		zap.Float64("leverage", meta.Leverage),
		zap.String("source_wallet", meta.SourceWallet),
		zap.String("event_id", meta.EventID),
		zap.Bool("server_execution", meta.ServerExecution),
	)

	confirmation := action.Confirmation{
		Symbol: pos.Symbol,
		Side:   pos.Side,
		Size:   pos.Size,
	}

	if meta.ServerExecution {
		confirmation.Mode = action.ModeServer
		confirmation.Status = action.StatusDelegated
		e.logger.Info("服务端代执行，本地跳过下单", zap.String("symbol", pos.Symbol))
		return confirmation, nil
	}

	if e.exchange == nil {
		return action.Confirmation{}, missingCredentials(action.ExecutePerpTrade)
	}

	orderReq := exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Size:       pos.Size,
		ReduceOnly: pos.ReduceOnly,
		PriceHint:  meta.Price,
	}

	start := time.Now()
	var result exchange.OrderResult
	switch pos.Side {
	case action.SideBuy:
		result, err = e.exchange.Buy(ctx, orderReq)
	default:
		result, err = e.exchange.Sell(ctx, orderReq)
	}
	if err != nil {
		return action.Confirmation{}, &ExecutionError{ActionID: action.ExecutePerpTrade, Symbol: pos.Symbol, Err: err}
	}

	e.logger.Info("交易已执行",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.String("order_id", result.OrderID),
		zap.Duration("latency", time.Since(start)),
	)

	confirmation.Mode = action.ModeClient
	confirmation.OrderID = result.OrderID
	confirmation.Status = submittedStatus(result)
	return confirmation, nil
}

// HandleSetStopLoss 挂出止损单，始终在本地执行。
func (e *Executor) HandleSetStopLoss(ctx context.Context, cfg action.Config) (action.Confirmation, error) {
	return e.handleTrigger(ctx, action.SetPerpStopLoss, cfg, func(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
		return e.exchange.SetStopLoss(ctx, req)
	})
}

// HandleSetTakeProfit 挂出止盈单，始终在本地执行。
func (e *Executor) HandleSetTakeProfit(ctx context.Context, cfg action.Config) (action.Confirmation, error) {
	return e.handleTrigger(ctx, action.SetPerpTakeProfit, cfg, func(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
		return e.exchange.SetTakeProfit(ctx, req)
	})
}

type triggerFunc func(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error)

func (e *Executor) handleTrigger(ctx context.Context, id action.ID, cfg action.Config, submit triggerFunc) (action.Confirmation, error) {
	req, err := action.DecodeTrigger(cfg)
	if err != nil {
		return action.Confirmation{}, err
	}
	pos := req.Position

	if e.exchange == nil {
		return action.Confirmation{}, missingCredentials(id)
	}

	result, err := submit(ctx, exchange.TriggerRequest{
		Symbol:       pos.Symbol,
		Size:         pos.Size,
		Side:         strings.ToLower(string(pos.Side)),
		TriggerPrice: pos.TriggerPrice,
	})
	if err != nil {
		return action.Confirmation{}, &ExecutionError{ActionID: id, Symbol: pos.Symbol, Err: err}
	}

	e.logger.Info("触发单已设置",
		zap.String("action_id", string(id)),
		zap.String("symbol", pos.Symbol),
		zap.Float64("trigger_price", pos.TriggerPrice),
		zap.String("order_id", result.OrderID),
	)

	return action.Confirmation{
		Mode:         action.ModeClient,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Size:         pos.Size,
		TriggerPrice: pos.TriggerPrice,
		OrderID:      result.OrderID,
		Status:       submittedStatus(result),
	}, nil
}

func missingCredentials(id action.ID) error {
	return &ConfigurationError{
		ActionID: id,
		Reason:   "未配置 HYPERLIQUID_PRIVATE_KEY 与 HYPERLIQUID_PUBLIC_ADDRESS",
	}
}

func submittedStatus(result exchange.OrderResult) string {
	if result.Status != "" {
		return result.Status
	}
	return action.StatusSubmitted
}
