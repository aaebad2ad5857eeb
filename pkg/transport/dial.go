package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chanmux/chanmux-go/pkg/log"
)

// DefaultPort is the default chanmux TCP port.
const DefaultPort = 5064

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

// DialConfig configures Dial.
type DialConfig struct {
	// Timeout bounds connection establishment (default DefaultDialTimeout).
	Timeout time.Duration

	// MaxMessageSize is the largest accepted message (default 1 MB).
	MaxMessageSize uint32

	// EventLog receives transport events (optional).
	EventLog log.Logger
}

// Dial connects to address. Accepted forms:
//
//	host:port          TCP
//	tcp://host:port    TCP
//	ws://host/path     WebSocket
//	wss://host/path    WebSocket over TLS
//
// A TCP address without a port uses DefaultPort.
func Dial(ctx context.Context, address string, config DialConfig) (Conn, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	scheme, rest, ok := strings.Cut(address, "://")
	if !ok {
		scheme, rest = "tcp", address
	}

	switch scheme {
	case "tcp":
		hostport := rest
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), fmt.Sprint(DefaultPort))
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", hostport)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", hostport, err)
		}
		return NewStreamConn(conn, config.MaxMessageSize, config.EventLog), nil

	case "ws", "wss":
		if _, err := url.Parse(address); err != nil {
			return nil, fmt.Errorf("dial %s: %w", address, err)
		}
		dialer := websocket.Dialer{HandshakeTimeout: config.Timeout}
		conn, resp, err := dialer.DialContext(ctx, address, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", address, err)
		}
		return NewWebSocketConn(conn, config.MaxMessageSize, config.EventLog), nil

	default:
		return nil, fmt.Errorf("dial %s: unsupported scheme %q", address, scheme)
	}
}
