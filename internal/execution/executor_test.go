package execution

import (
	"context"
	"errors"
	"testing"

	"fractrade-executor/internal/action"
	"fractrade-executor/internal/exchange"
)

type mockExchange struct {
	buys        []exchange.OrderRequest
	sells       []exchange.OrderRequest
	stopLosses  []exchange.TriggerRequest
	takeProfits []exchange.TriggerRequest
	err         error
}

func (m *mockExchange) Buy(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	m.buys = append(m.buys, req)
	return m.result("buy-1")
}

func (m *mockExchange) Sell(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	m.sells = append(m.sells, req)
	return m.result("sell-1")
}

func (m *mockExchange) SetStopLoss(_ context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
	m.stopLosses = append(m.stopLosses, req)
	return m.result("sl-1")
}

func (m *mockExchange) SetTakeProfit(_ context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
	m.takeProfits = append(m.takeProfits, req)
	return m.result("tp-1")
}

func (m *mockExchange) result(id string) (exchange.OrderResult, error) {
	if m.err != nil {
		return exchange.OrderResult{}, m.err
	}
	return exchange.OrderResult{OrderID: id}, nil
}

func tradeConfig(side string, serverExecution bool) action.Config {
	return action.Config{
		"position": map[string]any{
			"symbol":      "BTC",
			"size":        "0.01",
			"side":        side,
			"reduce_only": false,
		},
		"metadata": map[string]any{
			"price":            "65000",
			"server_execution": serverExecution,
		},
	}
}

func triggerConfig(price string) action.Config {
	return action.Config{
		"position": map[string]any{
			"symbol":        "BTC",
			"size":          "0.01",
			"side":          "SELL",
			"trigger_price": price,
			"reduce_only":   true,
		},
	}
}

func TestHandleTrade_ClientSideBuy(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	conf, err := exec.HandleTrade(context.Background(), tradeConfig("buy", false))
	if err != nil {
		t.Fatalf("HandleTrade returned error: %v", err)
	}
	if len(mock.buys) != 1 || len(mock.sells) != 0 {
		t.Fatalf("expected one buy, got buys=%d sells=%d", len(mock.buys), len(mock.sells))
	}
	req := mock.buys[0]
	if req.Symbol != "BTC" || req.Size != 0.01 || req.ReduceOnly || req.PriceHint != 65000 {
		t.Errorf("unexpected order request: %+v", req)
	}
	if conf.Mode != action.ModeClient || conf.OrderID != "buy-1" || conf.Status != action.StatusSubmitted {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
	if conf.Side != action.SideBuy {
		t.Errorf("expected normalized side BUY, got %s", conf.Side)
	}
}

func TestHandleTrade_ClientSideSell(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	if _, err := exec.HandleTrade(context.Background(), tradeConfig("SELL", false)); err != nil {
		t.Fatalf("HandleTrade returned error: %v", err)
	}
	if len(mock.sells) != 1 || len(mock.buys) != 0 {
		t.Fatalf("expected one sell, got buys=%d sells=%d", len(mock.buys), len(mock.sells))
	}
}

func TestHandleTrade_ServerExecutionDelegates(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	conf, err := exec.HandleTrade(context.Background(), tradeConfig("BUY", true))
	if err != nil {
		t.Fatalf("HandleTrade returned error: %v", err)
	}
	if len(mock.buys)+len(mock.sells) != 0 {
		t.Errorf("server execution must not touch the exchange")
	}
	if conf.Mode != action.ModeServer || conf.Status != action.StatusDelegated {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
}

func TestHandleTrade_ServerExecutionWithoutCredentials(t *testing.T) {
	exec := NewExecutor(nil, nil)
	conf, err := exec.HandleTrade(context.Background(), tradeConfig("BUY", true))
	if err != nil {
		t.Fatalf("HandleTrade returned error: %v", err)
	}
	if conf.Status != action.StatusDelegated {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
}

func TestHandleTrade_MissingCredentials(t *testing.T) {
	exec := NewExecutor(nil, nil)
	_, err := exec.HandleTrade(context.Background(), tradeConfig("BUY", false))

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.ActionID != action.ExecutePerpTrade {
		t.Errorf("unexpected action id %s", cfgErr.ActionID)
	}
}

func TestHandleTrade_InvalidConfig(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	_, err := exec.HandleTrade(context.Background(), action.Config{"position": map[string]any{"symbol": "BTC"}})
	if !errors.Is(err, action.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if len(mock.buys)+len(mock.sells) != 0 {
		t.Errorf("invalid config must not reach the exchange")
	}
}

func TestHandleTrade_WrapsExchangeErrors(t *testing.T) {
	rejected := errors.New("insufficient margin")
	exec := NewExecutor(&mockExchange{err: rejected}, nil)

	_, err := exec.HandleTrade(context.Background(), tradeConfig("BUY", false))

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Symbol != "BTC" || execErr.ActionID != action.ExecutePerpTrade {
		t.Errorf("unexpected error context: %+v", execErr)
	}
	if !errors.Is(err, rejected) {
		t.Errorf("expected wrapped exchange error")
	}
}

func TestHandleSetStopLoss(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	conf, err := exec.HandleSetStopLoss(context.Background(), triggerConfig("45000"))
	if err != nil {
		t.Fatalf("HandleSetStopLoss returned error: %v", err)
	}
	if len(mock.stopLosses) != 1 || len(mock.takeProfits) != 0 {
		t.Fatalf("expected one stop loss, got %d/%d", len(mock.stopLosses), len(mock.takeProfits))
	}
	req := mock.stopLosses[0]
	if req.Symbol != "BTC" || req.Size != 0.01 || req.TriggerPrice != 45000 || req.Side != exchange.SideSell {
		t.Errorf("unexpected trigger request: %+v", req)
	}
	if conf.TriggerPrice != 45000 || conf.OrderID != "sl-1" || conf.Mode != action.ModeClient {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
}

func TestHandleSetTakeProfit(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	if _, err := exec.HandleSetTakeProfit(context.Background(), triggerConfig("55000")); err != nil {
		t.Fatalf("HandleSetTakeProfit returned error: %v", err)
	}
	if len(mock.takeProfits) != 1 || mock.takeProfits[0].TriggerPrice != 55000 {
		t.Fatalf("unexpected take profits: %+v", mock.takeProfits)
	}
}

func TestHandleTrigger_RequiresTriggerPrice(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	_, err := exec.HandleSetTakeProfit(context.Background(), triggerConfig("0"))
	if !errors.Is(err, action.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHandleTrigger_MissingCredentials(t *testing.T) {
	exec := NewExecutor(nil, nil)
	_, err := exec.HandleSetStopLoss(context.Background(), triggerConfig("45000"))

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.ActionID != action.SetPerpStopLoss {
		t.Fatalf("expected ConfigurationError for stop loss, got %v", err)
	}
}

func TestDispatch_RoutesThroughExecutor(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	if _, err := action.Dispatch(context.Background(), exec, action.SetPerpTakeProfit, triggerConfig("55000")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(mock.takeProfits) != 1 || len(mock.stopLosses) != 0 || len(mock.buys) != 0 {
		t.Errorf("dispatch routed to the wrong handler")
	}
}

func TestHandleTrade_MalformedInformationalMetadataStillTrades(t *testing.T) {
	mock := &mockExchange{}
	exec := NewExecutor(mock, nil)

	cfg := action.Config{
		"position": map[string]any{"symbol": "BTC", "size": "0.01", "side": "BUY"},
		"metadata": map[string]any{"leverage": "10x", "price": "market"},
	}
	conf, err := exec.HandleTrade(context.Background(), cfg)
	if err != nil {
		t.Fatalf("HandleTrade returned error: %v", err)
	}
	if len(mock.buys) != 1 {
		t.Fatalf("expected one buy, got %d", len(mock.buys))
	}
	if mock.buys[0].PriceHint != 0 {
		t.Errorf("unparseable price must not become a hint, got %v", mock.buys[0].PriceHint)
	}
	if conf.Mode != action.ModeClient {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
}
