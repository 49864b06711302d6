package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// session 对应一次成功握手后的连接，重连时整体替换。
type session struct {
	id          string
	endpoint    string
	conn        *websocket.Conn
	connectedAt time.Time
	frames      int
}

func newSession(conn *websocket.Conn, endpoint string) *session {
	return &session{
		id:          uuid.NewString(),
		endpoint:    endpoint,
		conn:        conn,
		connectedAt: time.Now().UTC(),
	}
}

// serve 并行运行接收循环与心跳，任意一方退出都会关闭连接。
func (d *Dispatcher) serve(ctx context.Context, sess *session) error {
	readWait := d.cfg.PingInterval + d.cfg.PongWait
	conn := sess.conn

	// 超过上限的帧会使 ReadMessage 返回错误并触发重连。
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.receive(ctx, sess, readWait)
	})

	group.Go(func() error {
		return d.keepalive(groupCtx, sess)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		_ = conn.Close()
		return nil
	})

	return group.Wait()
}

func (d *Dispatcher) receive(ctx context.Context, sess *session, readWait time.Duration) error {
	for {
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &ConnectionError{Op: "read", URL: sess.endpoint, Err: err}
		}
		sess.frames++

		d.handleFrame(ctx, sess, frame)

		if ctx.Err() != nil {
			return nil
		}
		// Handler 可能耗时较长，处理完成后重新计算读超时。
		_ = sess.conn.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (d *Dispatcher) keepalive(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return &ConnectionError{Op: "ping", URL: sess.endpoint, Err: err}
			}
		}
	}
}
