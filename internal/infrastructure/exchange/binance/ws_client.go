package binance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mdcollector/internal/application/port"
)

const (
	DefaultWSURL = "wss://stream.binance.com:9443"

	dialTimeout  = 10 * time.Second
	pingInterval = 25 * time.Second
	readTimeout  = 60 * time.Second
)

// ErrConnClosed is returned by ReadMessage after Close.
var ErrConnClosed = errors.New("binance ws connection closed")

// Dialer opens raw single-stream subscriptions: <base>/ws/<stream>.
type Dialer struct {
	wsURL        string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	readTimeout  time.Duration
}

func NewDialer(wsURL string) *Dialer {
	wsURL = strings.TrimRight(strings.TrimSpace(wsURL), "/")
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Dialer{
		wsURL:        wsURL,
		dialer:       &websocket.Dialer{HandshakeTimeout: dialTimeout},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

func (d *Dialer) Dial(ctx context.Context, stream string) (port.StreamConn, error) {
	if stream == "" {
		return nil, errors.New("binance ws stream empty")
	}
	cctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := d.dialer.DialContext(cctx, d.wsURL+"/ws/"+stream, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(conn, d.pingInterval, d.readTimeout), nil
}

var _ port.StreamDialer = (*Dialer)(nil)

type frame struct {
	data []byte
	err  error
}

// wsConn 单连接：一个读协程按序投递消息，一个 ping 协程保活
type wsConn struct {
	conn      *websocket.Conn
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, ping, readTimeout time.Duration) *wsConn {
	c := &wsConn{
		conn:   conn,
		frames: make(chan frame),
		done:   make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// server pings arrive every few minutes; answer and extend the deadline
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	go c.readLoop(readTimeout)
	go c.pingLoop(ping)
	return c
}

func (c *wsConn) readLoop(readTimeout time.Duration) {
	for {
		_, b, err := c.conn.ReadMessage()
		if err == nil {
			_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		select {
		case c.frames <- frame{data: b, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *wsConn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			_ = c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnClosed
	case f := <-c.frames:
		return f.data, f.err
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
