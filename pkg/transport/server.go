package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/chanmux/chanmux-go/pkg/log"
)

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on for TCP (e.g. ":5064").
	Address string

	// MaxMessageSize is the largest accepted message (default 1 MB).
	MaxMessageSize uint32

	// EventLog receives transport events (optional).
	EventLog log.Logger

	// Logger for operational logging (default slog.Default()).
	Logger *slog.Logger

	// OnConnect serves one connection. The connection is closed when it
	// returns.
	OnConnect func(ctx context.Context, conn Conn)
}

// Server accepts connections over TCP and, through WebSocketHandler, over
// WebSocket. Each connection is handed to OnConnect on its own goroutine.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[Conn]struct{}

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. OnConnect is required.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnect == nil {
		return nil, fmt.Errorf("OnConnect is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start listens on the configured TCP address and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("transport server listening", "address", listener.Addr().String())
	return nil
}

// Stop closes the listener and every connection, TCP and WebSocket, and
// waits for their handlers to return.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the TCP listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// WebSocketHandler returns an HTTP handler upgrading requests to WebSocket
// connections served like TCP ones. The handler blocks for the lifetime of
// the connection.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ctx.Err() != nil {
			http.Error(w, "server stopped", http.StatusServiceUnavailable)
			return
		}
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := NewWebSocketConn(ws, s.config.MaxMessageSize, s.config.EventLog)
		s.wg.Add(1)
		s.serve(conn)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		conn := NewStreamConn(nc, s.config.MaxMessageSize, s.config.EventLog)
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn Conn) {
	defer s.wg.Done()

	s.connsMu.Lock()
	if s.ctx.Err() != nil {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Debug("connection accepted", "id", conn.ID(), "remote", conn.RemoteAddr())
	s.config.OnConnect(s.ctx, conn)
	conn.Close()

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	s.logger.Debug("connection closed", "id", conn.ID())
}
