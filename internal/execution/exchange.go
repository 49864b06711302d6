package execution

import (
	"context"

	"fractrade-executor/internal/exchange"
)

// Exchange 抽象下单通道，方便切换真实客户端或测试替身。
type Exchange interface {
	Buy(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
	Sell(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
	SetStopLoss(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error)
	SetTakeProfit(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error)
}

var _ Exchange = (*exchange.Client)(nil)
