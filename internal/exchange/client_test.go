package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"fractrade-executor/internal/config"
)

type createCall struct {
	symbol string
	typ    string
	side   string
	amount float64
	opts   int
}

type mockOrderClient struct {
	calls     []createCall
	bookCalls int
	errs      []error
	book      ccxt.OrderBook
	orderID   string
}

func (m *mockOrderClient) CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, createCall{symbol: symbol, typ: typeVar, side: side, amount: amount, opts: len(options)})
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return ccxt.Order{}, err
		}
	}
	id := m.orderID
	status := "open"
	return ccxt.Order{Id: &id, Status: &status}, nil
}

func (m *mockOrderClient) FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error) {
	m.bookCalls++
	return m.book, nil
}

func testConfig() config.HyperliquidConfig {
	return config.HyperliquidConfig{
		Environment: config.EnvironmentTestnet,
		Slippage:    0.01,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func TestPerpSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC":           "BTC/USDC:USDC",
		" kPEPE ":       "kPEPE/USDC:USDC",
		"ETH/USDC:USDC": "ETH/USDC:USDC",
		"":              "",
	}
	for in, want := range cases {
		if got := PerpSymbol(in); got != want {
			t.Errorf("PerpSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientBuy_UsesPriceHint(t *testing.T) {
	mock := &mockOrderClient{orderID: "123"}
	client := newClient(testConfig(), mock, nil)

	res, err := client.Buy(context.Background(), OrderRequest{Symbol: "BTC", Size: 0.01, PriceHint: 65000})
	if err != nil {
		t.Fatalf("Buy returned error: %v", err)
	}
	if mock.bookCalls != 0 {
		t.Errorf("order book should not be fetched when a price hint is present")
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected one CreateOrder call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if call.symbol != "BTC/USDC:USDC" || call.typ != "market" || call.side != SideBuy || call.amount != 0.01 {
		t.Errorf("unexpected call: %+v", call)
	}
	if call.opts != 2 {
		t.Errorf("expected price and params options, got %d", call.opts)
	}
	if res.OrderID != "123" || res.Status != "open" || res.Price != 65000 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(res.ClientOrderID, "0x") || len(res.ClientOrderID) != 34 {
		t.Errorf("client order id %q is not a 16 byte hex cloid", res.ClientOrderID)
	}
}

func TestClientSell_FallsBackToBestBid(t *testing.T) {
	mock := &mockOrderClient{
		book: ccxt.OrderBook{
			Bids: [][]float64{{64990, 1}},
			Asks: [][]float64{{65010, 1}},
		},
	}
	client := newClient(testConfig(), mock, nil)

	res, err := client.Sell(context.Background(), OrderRequest{Symbol: "BTC", Size: 0.5})
	if err != nil {
		t.Fatalf("Sell returned error: %v", err)
	}
	if mock.bookCalls != 1 || res.Price != 64990 {
		t.Errorf("expected best bid reference price, got %v (book calls %d)", res.Price, mock.bookCalls)
	}
}

func TestClientBuy_NoPrice(t *testing.T) {
	client := newClient(testConfig(), &mockOrderClient{}, nil)
	_, err := client.Buy(context.Background(), OrderRequest{Symbol: "BTC", Size: 1})
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestClientTrigger_Validation(t *testing.T) {
	client := newClient(testConfig(), &mockOrderClient{}, nil)

	if _, err := client.SetStopLoss(context.Background(), TriggerRequest{Symbol: "BTC", Size: 1, Side: SideSell}); err == nil {
		t.Errorf("expected error for missing trigger price")
	}
	if _, err := client.SetTakeProfit(context.Background(), TriggerRequest{Symbol: "BTC", Size: 1, Side: "HOLD", TriggerPrice: 1}); err == nil {
		t.Errorf("expected error for invalid side")
	}
}

func TestClientSetStopLoss_SubmitsTriggerOrder(t *testing.T) {
	mock := &mockOrderClient{orderID: "sl-1"}
	client := newClient(testConfig(), mock, nil)

	res, err := client.SetStopLoss(context.Background(), TriggerRequest{Symbol: "ETH", Size: 2, Side: SideSell, TriggerPrice: 2900})
	if err != nil {
		t.Fatalf("SetStopLoss returned error: %v", err)
	}
	if len(mock.calls) != 1 || mock.calls[0].side != SideSell || mock.calls[0].symbol != "ETH/USDC:USDC" {
		t.Fatalf("unexpected calls: %+v", mock.calls)
	}
	if res.OrderID != "sl-1" || res.Price != 2900 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestClient_RetriesNetworkErrors(t *testing.T) {
	mock := &mockOrderClient{
		orderID: "ok",
		errs: []error{
			&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"},
			&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"},
		},
	}
	client := newClient(testConfig(), mock, nil)

	res, err := client.Buy(context.Background(), OrderRequest{Symbol: "BTC", Size: 1, PriceHint: 1})
	if err != nil {
		t.Fatalf("Buy returned error: %v", err)
	}
	if len(mock.calls) != 3 || res.OrderID != "ok" {
		t.Errorf("expected success on third attempt, calls=%d", len(mock.calls))
	}
}

func TestClient_DoesNotRetryRejections(t *testing.T) {
	mock := &mockOrderClient{
		errs: []error{&ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "margin"}},
	}
	client := newClient(testConfig(), mock, nil)

	if _, err := client.Buy(context.Background(), OrderRequest{Symbol: "BTC", Size: 1, PriceHint: 1}); err == nil {
		t.Fatalf("expected error")
	}
	if len(mock.calls) != 1 {
		t.Errorf("rejections must not be retried, calls=%d", len(mock.calls))
	}
}

func TestClient_Maintenance(t *testing.T) {
	mock := &mockOrderClient{
		errs: []error{&ccxt.Error{Type: ccxt.OnMaintenanceErrType}},
	}
	client := newClient(testConfig(), mock, nil)

	_, err := client.Buy(context.Background(), OrderRequest{Symbol: "BTC", Size: 1, PriceHint: 1})
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected ErrMaintenance, got %v", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(config.HyperliquidConfig{PrivateKey: "0xabc"}, nil); err == nil {
		t.Fatalf("expected error without public address")
	}
}
