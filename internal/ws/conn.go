package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tri2820/backend/indexer/internal/codec"
)

const (
	writeWait         = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultMaxMessage = 64 << 20 // 64 MiB
)

// TransportError is a failure of the connection itself: refused dial, peer
// close, or a read/write fault. These drive the exponential backoff path.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("ws %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from the connection
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Conn is one live WebSocket connection carrying codec frames. Reads must
// come from a single goroutine; writes are serialized internally.
type Conn struct {
	conn     *websocket.Conn
	pongWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(c *websocket.Conn, maxMessage int64, pingPeriod time.Duration) *Conn {
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessage
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	wc := &Conn{
		conn:     c,
		pongWait: pingPeriod * 10 / 9,
		closed:   make(chan struct{}),
	}

	c.SetReadLimit(maxMessage)
	c.SetReadDeadline(time.Now().Add(wc.pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(wc.pongWait))
	})
	return wc
}

// Dial opens a connection to url
func Dial(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, maxMessage int64, pingPeriod time.Duration) (*Conn, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	c, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return newConn(c, maxMessage, pingPeriod), nil
}

// ReadFrame blocks until the next data frame arrives
func (c *Conn) ReadFrame() (codec.Frame, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return codec.Frame{}, &TransportError{Op: "read", Err: err}
	}
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	return codec.Frame{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

// WriteFrame sends one frame as a text or binary message
func (c *Conn) WriteFrame(f codec.Frame) error {
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(mt, f.Data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// keepalive pings the peer until ctx ends or a ping fails
func (c *Conn) keepalive(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = defaultPingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Done is closed once the connection has been closed locally
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Close sends a normal close message and tears the connection down
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
