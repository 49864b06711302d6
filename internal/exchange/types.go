package exchange

import (
	"strings"
	"time"
)

const (
	// SideBuy / SideSell 为 ccxt 下单方向。
	SideBuy  = "buy"
	SideSell = "sell"

	perpQuote = "USDC"
)

// OrderRequest 描述一笔市价开平仓。
type OrderRequest struct {
	Symbol     string
	Size       float64
	ReduceOnly bool
	// PriceHint 用于计算市价单滑点上限，<=0 时取盘口对手价。
	PriceHint float64
}

// TriggerRequest 描述一笔止损或止盈触发单。
type TriggerRequest struct {
	Symbol       string
	Size         float64
	Side         string
	TriggerPrice float64
}

// OrderResult 为交易所返回的订单确认。
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Amount        float64
	Price         float64
	Status        string
	SubmittedAt   time.Time
}

// PerpSymbol 将 BTC 这样的币种名转换为 ccxt 永续合约符号 BTC/USDC:USDC。
func PerpSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	return s + "/" + perpQuote + ":" + perpQuote
}
