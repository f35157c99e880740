package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultReadLimit caps inbound frame size for subscribers, which never
// need to send more than a close or keepalive.
const DefaultReadLimit = 4096

// DefaultPongWait is how long a subscriber may stay silent (no pong and no
// frame) before its read fails. Pings go out at 9/10 of it.
const DefaultPongWait = 60 * time.Second

const pingWriteTimeout = 10 * time.Second

// WSOption customizes a WSConn.
type WSOption func(*WSConn)

// WithPongWait overrides DefaultPongWait. d <= 0 is ignored.
func WithPongWait(d time.Duration) WSOption {
	return func(w *WSConn) {
		if d > 0 {
			w.pongWait = d
		}
	}
}

// WSConn adapts a gorilla websocket connection to Conn.
type WSConn struct {
	id       string
	conn     *websocket.Conn
	pongWait time.Duration

	// gorilla allows one concurrent writer.
	wmu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewWSConn wraps conn and starts its keepalive pings. readLimit <= 0
// selects DefaultReadLimit.
func NewWSConn(conn *websocket.Conn, readLimit int64, opts ...WSOption) *WSConn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	w := &WSConn{
		id:       uuid.NewString(),
		conn:     conn,
		pongWait: DefaultPongWait,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(w.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})
	go w.keepalive()
	return w
}

// keepalive pings until Close. A failed ping closes the socket, which ends
// the pending Receive and so the subscription.
func (w *WSConn) keepalive() {
	ticker := time.NewTicker(w.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout)); err != nil {
				_ = w.conn.Close()
				return
			}
		case <-w.done:
			return
		}
	}
}

// ID returns a random per-connection id.
func (w *WSConn) ID() string { return w.id }

// Send writes a text frame. The write deadline comes from ctx when it has one.
func (w *WSConn) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSendTimeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Receive returns the next text or binary frame as a string. Any frame
// counts as liveness.
func (w *WSConn) Receive() (string, error) {
	_, msg, err := w.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	return string(msg), nil
}

// Close stops the pings, sends a normal close frame (best effort) and
// closes the socket.
func (w *WSConn) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wmu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.conn.Close()
}
