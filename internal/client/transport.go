package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the server.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest inbound message accepted.
	maxMessageSize = 1 << 20

	handshakeTimeout = 10 * time.Second
)

// Conn is one open chat channel.
// ReadChunk must be called from a single goroutine; WriteFrame and Close may
// be called from any goroutine.
type Conn interface {
	// ReadChunk blocks for the next inbound message.
	ReadChunk() ([]byte, error)
	// WriteFrame sends data as one text message.
	WriteFrame(data []byte) error
	// Close tears the connection down. A clean close sends a normal-closure
	// frame first. Close is idempotent.
	Close(clean bool) error
}

// Dialer opens chat channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialError is a failed WebSocket handshake. Status is the HTTP status the
// server answered with, or 0 when no response arrived.
type DialError struct {
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("websocket connect: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("websocket connect: %v", e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// WSDialer dials chat channels with gorilla/websocket.
type WSDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWSDialer returns a dialer with a bounded handshake.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial opens a connection and starts its keepalive pings.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		return nil, &DialError{Status: status, Err: err}
	}
	return newWSConn(ws), nil
}

// WSConn is a Conn over a gorilla/websocket connection.
type WSConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{
		conn: ws,
		done: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *WSConn) ReadChunk() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WSConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close(clean bool) error {
	c.closeOnce.Do(func() {
		close(c.done)
		if clean {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// pingLoop keeps the connection alive until Close.
func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
