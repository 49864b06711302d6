package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fractrade-executor/internal/config"
	"fractrade-executor/internal/journal"
	"fractrade-executor/internal/store"
)

func newWSServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token app-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func testAppConfig(url string) *config.Config {
	return &config.Config{
		Executor: config.ExecutorSimple,
		Feed: config.FeedConfig{
			URL:              "ws" + strings.TrimPrefix(url, "http"),
			Token:            "app-token",
			HandshakeTimeout: time.Second,
			PingInterval:     time.Second,
			PongWait:         time.Second,
			Backoff:          config.BackoffConfig{MinDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2},
		},
		Hyperliquid: config.HyperliquidConfig{Environment: config.EnvironmentTestnet},
	}
}

func TestAppRun_JournalsDelegatedTradeAndClosesCleanly(t *testing.T) {
	srv, conns := newWSServer(t)

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- New(testAppConfig(srv.URL), nil, st).Run(ctx)
	}()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(3 * time.Second):
		t.Fatalf("executor did not connect")
	}
	defer conn.Close()

	frame := `{"type":"ACTION","data":{"action_id":"execute_hyperliquid_perp_trade","config":{` +
		`"position":{"symbol":"BTC","size":"0.01","side":"BUY"},"metadata":{"server_execution":true}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("发送消息失败: %v", err)
	}

	reader, err := journal.NewService(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		events, err := reader.ListEvents(context.Background(), journal.EventDelegated, 10)
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if len(events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delegated trade was not journaled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, readErr := conn.ReadMessage()
	if !websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", readErr)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestAppRun_RejectsUnknownExecutor(t *testing.T) {
	cfg := testAppConfig("http://127.0.0.1:1")
	cfg.Executor = "fancy"

	if err := New(cfg, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for unknown executor")
	}
}

type stubLister struct {
	gotType  journal.EventType
	gotLimit int
	err      error
}

func (s *stubLister) ListEvents(_ context.Context, eventType journal.EventType, limit int) ([]journal.Event, error) {
	s.gotType, s.gotLimit = eventType, limit
	if s.err != nil {
		return nil, s.err
	}
	return []journal.Event{{Type: journal.EventFailed, Payload: json.RawMessage(`{"action_id":"x"}`)}}, nil
}

func TestMonitorHandler(t *testing.T) {
	lister := &stubLister{}
	handler := newMonitorHandler(lister, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=FAILED&limit=5000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if lister.gotType != journal.EventFailed || lister.gotLimit != 1000 {
		t.Errorf("unexpected query type=%s limit=%d", lister.gotType, lister.gotLimit)
	}
	var events []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 {
		t.Fatalf("unexpected body %s (%v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=ai_decision", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", rec.Code)
	}

	lister.err = errors.New("db closed")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
