package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fractrade-executor/internal/action"
	"fractrade-executor/internal/config"
)

const (
	defaultPingInterval     = 20 * time.Second
	defaultPongWait         = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
	maxLoggedFrame          = 512
	maxFrameSize            = 1 << 20
)

// Outcome 汇总一次动作分发的结果。
type Outcome struct {
	SessionID    string
	ActionID     string
	Symbol       string
	Config       action.Config
	Confirmation action.Confirmation
	Err          error
	ReceivedAt   time.Time
	Duration     time.Duration
}

// Recorder 接收每个 ACTION 帧的处理结果。
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome)
}

// Option 定制 Dispatcher。
type Option func(*Dispatcher)

// WithRecorder 设置结果记录器。
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithDialer 替换默认的 websocket.Dialer。
func WithDialer(dialer *websocket.Dialer) Option {
	return func(d *Dispatcher) {
		if dialer != nil {
			d.dialer = dialer
		}
	}
}

// Dispatcher 维护与推送端的唯一连接，并将指令串行分发给 Handler。
type Dispatcher struct {
	cfg      config.FeedConfig
	endpoint string
	header   http.Header
	handler  action.Handler
	recorder Recorder
	logger   *zap.Logger
	dialer   *websocket.Dialer

	state    atomic.Int32
	attempts atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	session *session
}

// NewDispatcher 创建 Dispatcher，此时不会建立连接。
func NewDispatcher(cfg config.FeedConfig, handler action.Handler, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("feed: handler 不能为空")
	}
	if cfg.URL == "" {
		return nil, errors.New("feed: url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Token "+cfg.Token)
	}

	d := &Dispatcher{
		cfg:      cfg,
		endpoint: cfg.Endpoint(),
		header:   header,
		handler:  handler,
		logger:   logger.Named("feed"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Endpoint 返回订阅地址。
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// State 返回当前连接状态。
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Attempts 返回当前会话自上次成功连接以来的重试次数。
func (d *Dispatcher) Attempts() int {
	return int(d.attempts.Load())
}

// SessionID 返回当前会话标识，未连接时为空。
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return ""
	}
	return d.session.id
}

// Done 在接收循环退出后关闭。未启动时返回已关闭的通道。
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

// Start 在后台启动连接与接收循环。首次握手失败只记录日志并按退避重试。
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state.Store(int32(StateConnecting))

	d.logger.Info("启动指令订阅", zap.String("endpoint", d.endpoint))

	go d.loop(loopCtx, d.done)
	return nil
}

// Run 启动后阻塞直至 Stop 被调用或 ctx 结束。
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-d.Done()
	return nil
}

// Stop 关闭连接并等待接收循环退出，正在执行的 Handler 会被允许完成。可重复调用。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.state.Store(int32(StateShuttingDown))
	cancel := d.cancel
	done := d.done
	var conn *websocket.Conn
	if d.session != nil {
		conn = d.session.conn
	}
	d.mu.Unlock()

	d.logger.Info("正在停止指令订阅")

	if conn != nil {
		sendClose(conn)
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done

	d.logger.Info("指令订阅已停止")
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.cancel = nil
		d.session = nil
		d.mu.Unlock()
		d.attempts.Store(0)
		d.state.Store(int32(StateDisconnected))
		close(done)
	}()

	backoff := NewBackoff(d.cfg.Backoff)
	d.logger.Debug("重连退避参数",
		zap.Duration("floor", backoff.Floor()),
		zap.Duration("ceiling", backoff.Ceiling()),
	)

	for {
		if ctx.Err() != nil || d.State() == StateShuttingDown {
			return
		}
		d.transition(StateConnecting)

		conn, err := d.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := backoff.Next()
			d.attempts.Store(int64(backoff.Attempts()))
			d.logger.Warn("连接推送服务失败，等待重试",
				zap.Int("attempt", backoff.Attempts()),
				zap.Duration("wait", wait),
				zap.Duration("max_wait", backoff.Ceiling()),
				zap.Error(err),
			)
			if !sleepContext(ctx, wait) {
				return
			}
			continue
		}

		sess := newSession(conn, d.endpoint)
		d.mu.Lock()
		if ctx.Err() != nil || d.State() == StateShuttingDown {
			d.mu.Unlock()
			_ = conn.Close()
			return
		}
		d.session = sess
		d.mu.Unlock()

		backoff.Reset()
		d.attempts.Store(0)
		d.transition(StateConnected)
		d.logger.Info("已连接推送服务",
			zap.String("session_id", sess.id),
			zap.String("endpoint", d.endpoint),
		)

		serveErr := d.serve(ctx, sess)

		d.mu.Lock()
		d.session = nil
		d.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil || d.State() == StateShuttingDown {
			d.logger.Info("推送连接已关闭",
				zap.String("session_id", sess.id),
				zap.Int("frames", sess.frames),
			)
			return
		}

		d.transition(StateConnecting)
		wait := backoff.Next()
		d.attempts.Store(int64(backoff.Attempts()))
		d.logger.Warn("推送连接中断，准备重连",
			zap.String("session_id", sess.id),
			zap.Duration("uptime", time.Since(sess.connectedAt)),
			zap.Duration("wait", wait),
			zap.Error(serveErr),
		)
		if !sleepContext(ctx, wait) {
			return
		}
	}
}

func (d *Dispatcher) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := d.dialer.DialContext(dialCtx, d.endpoint, d.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Op: "dial", URL: d.endpoint, Err: err}
	}
	return conn, nil
}

func (d *Dispatcher) transition(to State) {
	for {
		cur := State(d.state.Load())
		if cur == StateShuttingDown {
			return
		}
		if d.state.CompareAndSwap(int32(cur), int32(to)) {
			if cur != to {
				d.logger.Debug("连接状态变更",
					zap.Stringer("from", cur),
					zap.Stringer("to", to),
				)
			}
			return
		}
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, sess *session, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		d.logger.Warn("丢弃无法解析的消息",
			zap.String("session_id", sess.id),
			zap.Error(err),
			zap.ByteString("frame", truncate(frame)),
		)
		return
	}

	if env.Type != MessageTypeAction {
		d.logger.Warn("不支持的消息类型", zap.String("type", env.Type))
		return
	}

	receivedAt := time.Now().UTC()
	symbol := action.SymbolOf(env.Config)

	id, ok := action.ParseID(env.ActionID)
	if !ok {
		d.logger.Warn("不支持的动作",
			zap.String("action_id", env.ActionID),
			zap.String("symbol", symbol),
		)
		d.record(ctx, Outcome{
			SessionID:  sess.id,
			ActionID:   env.ActionID,
			Symbol:     symbol,
			Config:     env.Config,
			Err:        fmt.Errorf("%w: %q", action.ErrUnknownAction, env.ActionID),
			ReceivedAt: receivedAt,
		})
		return
	}

	d.logger.Info("处理动作",
		zap.String("session_id", sess.id),
		zap.String("action_id", string(id)),
		zap.String("symbol", symbol),
	)
	d.logger.Debug("动作参数", zap.Any("config", env.Config))

	// 正在执行的 Handler 不受 Stop 影响。
	handlerCtx := context.WithoutCancel(ctx)

	conf, err := d.dispatch(handlerCtx, id, env.Config)
	outcome := Outcome{
		SessionID:    sess.id,
		ActionID:     string(id),
		Symbol:       symbol,
		Config:       env.Config,
		Confirmation: conf,
		Err:          err,
		ReceivedAt:   receivedAt,
		Duration:     time.Since(receivedAt),
	}

	if err != nil {
		d.logger.Error("动作处理失败",
			zap.String("session_id", sess.id),
			zap.String("action_id", string(id)),
			zap.String("symbol", symbol),
			zap.Duration("latency", outcome.Duration),
			zap.Error(err),
		)
	} else {
		d.logger.Info("动作处理完成",
			zap.String("action_id", string(id)),
			zap.String("symbol", symbol),
			zap.String("mode", string(conf.Mode)),
			zap.String("status", conf.Status),
			zap.String("order_id", conf.OrderID),
			zap.Duration("latency", outcome.Duration),
		)
	}

	d.record(handlerCtx, outcome)
}

func (d *Dispatcher) dispatch(ctx context.Context, id action.ID, cfg action.Config) (conf action.Confirmation, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("动作处理发生 panic",
				zap.String("action_id", string(id)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			conf = action.Confirmation{}
			err = fmt.Errorf("feed: handler panic: %v", r)
		}
	}()
	return action.Dispatch(ctx, d.handler, id, cfg)
}

func (d *Dispatcher) record(ctx context.Context, outcome Outcome) {
	if d.recorder == nil {
		return
	}
	d.recorder.RecordOutcome(context.WithoutCancel(ctx), outcome)
}

func sendClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "executor shutdown")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func sleepContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncate(frame []byte) []byte {
	if len(frame) <= maxLoggedFrame {
		return frame
	}
	return frame[:maxLoggedFrame]
}
