package exchange

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fractrade-executor/internal/config"
)

type orderClient interface {
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
}

// Client 负责与 Hyperliquid 永续合约交互并实现限频与重试。
type Client struct {
	cfg         config.HyperliquidConfig
	logger      *zap.Logger
	exchange    orderClient
	limiter     *rate.Limiter
	loadMarkets func() error

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 使用本地私钥构造 Hyperliquid 客户端。
func NewClient(cfg config.HyperliquidConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.HasCredentials() {
		return nil, errors.New("exchange: hyperliquid 需要 private_key 与 public_address")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"walletAddress":   cfg.PublicAddress,
		"privateKey":      cfg.PrivateKey,
	}

	ex := ccxt.NewHyperliquid(userConfig)
	if cfg.Testnet() {
		ex.SetSandboxMode(true)
	}

	c := newClient(cfg, ex, logger)
	c.loadMarkets = func() error {
		_, err := ex.LoadMarkets()
		return err
	}
	return c, nil
}

func newClient(cfg config.HyperliquidConfig, ex orderClient, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	burst := cfg.RateLimit.Burst
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.Named("hyperliquid"),
		exchange: ex,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Buy 提交市价买单。
func (c *Client) Buy(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return c.marketOrder(ctx, SideBuy, req)
}

// Sell 提交市价卖单。
func (c *Client) Sell(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return c.marketOrder(ctx, SideSell, req)
}

// SetStopLoss 挂出只减仓的止损触发单。
func (c *Client) SetStopLoss(ctx context.Context, req TriggerRequest) (OrderResult, error) {
	return c.triggerOrder(ctx, "stopLossPrice", req)
}

// SetTakeProfit 挂出只减仓的止盈触发单。
func (c *Client) SetTakeProfit(ctx context.Context, req TriggerRequest) (OrderResult, error) {
	return c.triggerOrder(ctx, "takeProfitPrice", req)
}

func (c *Client) marketOrder(ctx context.Context, side string, req OrderRequest) (OrderResult, error) {
	symbol := PerpSymbol(req.Symbol)
	if req.Size <= 0 {
		return OrderResult{}, fmt.Errorf("exchange: 下单数量无效 size=%f", req.Size)
	}

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return OrderResult{}, err
	}

	price := req.PriceHint
	if price <= 0 {
		ref, err := c.referencePrice(ctx, symbol, side)
		if err != nil {
			return OrderResult{}, err
		}
		price = ref
	}

	params := map[string]interface{}{
		"reduceOnly":    req.ReduceOnly,
		"clientOrderId": newClientOrderID(),
	}
	if c.cfg.Slippage > 0 {
		params["slippage"] = formatSlippage(c.cfg.Slippage)
	}

	return c.submit(ctx, "create_market_order", symbol, side, req.Size, price, params)
}

func (c *Client) triggerOrder(ctx context.Context, kind string, req TriggerRequest) (OrderResult, error) {
	symbol := PerpSymbol(req.Symbol)
	if req.Size <= 0 || req.TriggerPrice <= 0 {
		return OrderResult{}, fmt.Errorf("exchange: 触发单参数无效 size=%f trigger=%f", req.Size, req.TriggerPrice)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return OrderResult{}, fmt.Errorf("exchange: 不支持的方向 %q", req.Side)
	}

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return OrderResult{}, err
	}

	params := map[string]interface{}{
		kind:            req.TriggerPrice,
		"reduceOnly":    true,
		"clientOrderId": newClientOrderID(),
	}

	return c.submit(ctx, "create_"+kind, symbol, req.Side, req.Size, req.TriggerPrice, params)
}

func (c *Client) submit(ctx context.Context, operation, symbol, side string, amount, price float64, params map[string]interface{}) (OrderResult, error) {
	var order ccxt.Order
	err := c.callWithRetry(ctx, operation, func() error {
		result, err := c.exchange.CreateOrder(
			symbol,
			"market",
			side,
			amount,
			ccxt.WithCreateOrderPrice(price),
			ccxt.WithCreateOrderParams(params),
		)
		if err != nil {
			return err
		}
		order = result
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}

	res := OrderResult{
		Symbol:      symbol,
		Side:        side,
		Amount:      amount,
		Price:       price,
		SubmittedAt: time.Now().UTC(),
	}
	if cloid, ok := params["clientOrderId"].(string); ok {
		res.ClientOrderID = cloid
	}
	if order.Id != nil {
		res.OrderID = *order.Id
	}
	if order.Status != nil {
		res.Status = *order.Status
	}

	c.logger.Info("订单已提交",
		zap.String("operation", operation),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.String("order_id", res.OrderID),
		zap.String("client_order_id", res.ClientOrderID),
	)
	return res, nil
}

// referencePrice 取盘口对手价：买单取卖一，卖单取买一。
func (c *Client) referencePrice(ctx context.Context, symbol, side string) (float64, error) {
	var price float64
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		book, err := c.exchange.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(5))
		if err != nil {
			return err
		}
		levels := book.Asks
		if side == SideSell {
			levels = book.Bids
		}
		if len(levels) == 0 || len(levels[0]) < 1 || levels[0][0] <= 0 {
			return fmt.Errorf("%w: %s", ErrNoPrice, symbol)
		}
		price = levels[0][0]
		return nil
	})
	return price, err
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.loadMarkets == nil {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", c.loadMarkets)
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Bool("testnet", c.cfg.Testnet()))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// newClientOrderID 生成 Hyperliquid 要求的 16 字节 cloid。
func newClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func formatSlippage(value float64) string {
	return fmt.Sprintf("%.6f", value)
}
