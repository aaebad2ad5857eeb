package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chanmux/chanmux-go/pkg/log"
)

// ErrConnClosed is returned by Send and Receive after Close.
var ErrConnClosed = errors.New("connection closed")

// wsWriteWait bounds a single WebSocket write, including the close frame.
const wsWriteWait = 5 * time.Second

// Conn is a message-oriented connection. Send may be called from any
// goroutine; Receive from one goroutine at a time.
type Conn interface {
	// ID returns the unique connection identifier.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Send writes one message.
	Send(data []byte) error

	// Receive blocks until one message arrives. It returns io.EOF when the
	// peer closed the connection cleanly.
	Receive() ([]byte, error)

	// Close closes the connection. It is safe to call more than once.
	Close() error
}

// streamConn carries length-prefixed frames over a byte stream.
type streamConn struct {
	id     string
	conn   net.Conn
	framer *Framer
	log    *frameLog

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamConn wraps a byte stream connection. maxSize 0 selects
// DefaultMaxMessageSize.
func NewStreamConn(conn net.Conn, maxSize uint32, logger log.Logger) Conn {
	c := &streamConn{
		id:     uuid.NewString(),
		conn:   conn,
		framer: NewFramerWithMaxSize(conn, maxSize),
		closed: make(chan struct{}),
	}
	remote := addrString(conn.RemoteAddr())
	c.framer.SetLogger(logger, c.id, remote)
	if logger != nil {
		c.log = &frameLog{logger: logger, connID: c.id, remote: remote}
	}
	c.log.state("", "CONNECTED")
	return c
}

func (c *streamConn) ID() string         { return c.id }
func (c *streamConn) RemoteAddr() string { return addrString(c.conn.RemoteAddr()) }

func (c *streamConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

func (c *streamConn) Receive() ([]byte, error) {
	data, err := c.framer.ReadFrame()
	if err != nil {
		select {
		case <-c.closed:
			return nil, ErrConnClosed
		default:
		}
	}
	return data, err
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		c.log.state("CONNECTED", "DISCONNECTED")
	})
	return err
}

// wsConn carries one message per binary WebSocket message.
type wsConn struct {
	id   string
	conn *websocket.Conn
	log  *frameLog

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketConn wraps an established WebSocket connection. maxSize 0
// selects DefaultMaxMessageSize.
func NewWebSocketConn(conn *websocket.Conn, maxSize uint32, logger log.Logger) Conn {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(int64(maxSize))
	c := &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		closed: make(chan struct{}),
	}
	if logger != nil {
		c.log = &frameLog{logger: logger, connID: c.id, remote: addrString(conn.RemoteAddr())}
	}
	c.log.state("", "CONNECTED")
	return c
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return addrString(c.conn.RemoteAddr()) }

func (c *wsConn) Send(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	c.log.frame(data, len(data), log.DirectionOut)
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil, ErrConnClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrMessageTooLarge
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		c.log.frame(data, len(data), log.DirectionIn)
		return data, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		c.wmu.Unlock()
		err = c.conn.Close()
		c.log.state("CONNECTED", "DISCONNECTED")
	})
	return err
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

var (
	_ Conn = (*streamConn)(nil)
	_ Conn = (*wsConn)(nil)
)
