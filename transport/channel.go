// Package transport provides the persistent message channel to the chat
// server. One binary frame goes up per turn; downstream frames are classified
// into the ServerMessage union and everything that happens to the connection
// surfaces as a single tagged event stream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
)

// Event is the closed union of channel lifecycle notifications.
type Event interface {
	isEvent()
}

// Opened reports a successful dial.
type Opened struct{}

// Inbound wraps one classified server message.
type Inbound struct {
	Msg ServerMessage
}

// Closed reports that the connection ended. Clean means the protocol's own
// shutdown handshake completed; anything abrupt is unclean.
type Closed struct {
	Code  int
	Clean bool
}

// Failed reports a dial that never produced a connection.
type Failed struct {
	Err error
}

func (Opened) isEvent()  {}
func (Inbound) isEvent() {}
func (Closed) isEvent()  {}
func (Failed) isEvent()  {}

// Conn is the minimal connection surface the channel needs; the default
// implementation wraps nhooyr websocket, tests substitute a scripted one.
type Conn interface {
	Read(ctx context.Context) (binary bool, data []byte, err error)
	Write(ctx context.Context, binary bool, data []byte) error
	Close(code int, reason string) error
}

// DialFunc establishes one connection to the server.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Channel is a re-openable message channel. Open may be called again after a
// Closed or Failed event; the event stream persists across connections.
type Channel struct {
	url  string
	dial DialFunc

	events chan Event
	done   chan struct{}

	mu   sync.Mutex
	conn Conn
}

// New returns a channel that dials url over websocket.
func New(url string) *Channel {
	return NewWithDialer(url, dialWebsocket)
}

// NewWithDialer returns a channel using a custom dialer.
func NewWithDialer(url string, dial DialFunc) *Channel {
	return &Channel{
		url:    url,
		dial:   dial,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

// Events delivers lifecycle and inbound-message events in arrival order.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Open dials the server in the background. The outcome arrives on Events as
// Opened or Failed; after Opened, inbound frames follow until a Closed event.
func (c *Channel) Open(ctx context.Context) {
	go func() {
		conn, err := c.dial(ctx, c.url)
		if err != nil {
			c.emit(Failed{Err: fmt.Errorf("dial %s: %w", c.url, err)})
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.emit(Opened{})
		c.readLoop(ctx, conn)
	}()
}

// Send transmits one turn as a single binary frame.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("channel not open")
	}
	return conn.Write(ctx, true, data)
}

// Close performs the shutdown handshake on the current connection, if any.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(int(websocket.StatusNormalClosure), "")
}

// Shutdown releases the channel for good; pending emits are abandoned.
func (c *Channel) Shutdown() {
	c.Close()
	close(c.done)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		binary, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			code, clean := closeInfo(err)
			c.emit(Closed{Code: code, Clean: clean})
			return
		}
		c.emit(Inbound{Msg: Classify(binary, data)})
	}
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// closeInfo extracts the close code from a read error and decides whether
// the closure was clean. Normal closure and going-away count as clean;
// everything else, including abrupt drops with no close frame, is unclean.
func closeInfo(err error) (code int, clean bool) {
	status := websocket.CloseStatus(err)
	if status == -1 {
		return -1, false
	}
	switch status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return int(status), true
	default:
		return int(status), false
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Turn blobs can be large; do not let the default limit reject them.
	conn.SetReadLimit(16 << 20)
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) Read(ctx context.Context) (bool, []byte, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return false, nil, err
	}
	return typ == websocket.MessageBinary, data, nil
}

func (w *wsConn) Write(ctx context.Context, binary bool, data []byte) error {
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return w.conn.Write(ctx, typ, data)
}

func (w *wsConn) Close(code int, reason string) error {
	return w.conn.Close(websocket.StatusCode(code), reason)
}
