package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/connection"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/discovery"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

// Name is the conventional backend name.
const Name = "remote"

// DefaultWriteTimeout bounds the wait for a write result.
const DefaultWriteTimeout = 10 * time.Second

// mdnsScheme marks an address resolved through DNS-SD.
const mdnsScheme = "mdns://"

// Resolver finds a server by instance name. discovery.MDNSBrowser
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*discovery.Service, error)
}

// Config configures a remote Source.
type Config struct {
	datasource.Config

	// Address of the server. See the package documentation for the forms.
	Address string

	Dial         transport.DialConfig
	KeepAlive    transport.KeepAliveConfig
	Backoff      connection.BackoffConfig
	WriteTimeout time.Duration

	// Resolver resolves mdns:// addresses (default an MDNSBrowser on every
	// interface).
	Resolver Resolver
}

// DefaultConfig returns the configuration for a server at address.
func DefaultConfig(address string) Config {
	return Config{
		Config:       datasource.DefaultConfig(Name),
		Address:      address,
		KeepAlive:    transport.DefaultKeepAliveConfig(),
		Backoff:      connection.DefaultBackoffConfig(),
		WriteTimeout: DefaultWriteTimeout,
	}
}

// connState is the connection payload of a remote channel as last reported
// by the server.
type connState struct {
	Connected      bool
	WriteConnected bool
}

// Channel is one remote channel. It is subscribed on the server while it
// is in use and the connection is up.
type Channel struct {
	*datasource.MultiplexedChannelHandler[connState, any]

	src  *Source
	name string

	// guarded by src.mu
	sub uint32
}

// Connect implements datasource.ChannelConnector.
func (c *Channel) Connect() error {
	if !c.src.subscribe(c) {
		c.ProcessConnection(connState{})
	}
	return nil
}

// Disconnect implements datasource.ChannelConnector.
func (c *Channel) Disconnect() error {
	c.src.unsubscribe(c)
	return nil
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(s connState) bool { return s.Connected }

// CheckWriteConnected implements datasource.WriteConnectionChecker.
func (c *Channel) CheckWriteConnected(s connState) bool { return s.WriteConnected }

// WriteValue implements datasource.ChannelWriter. done is called with the
// result reported by the server.
func (c *Channel) WriteValue(value any, done func(error)) {
	c.src.write(c, value, done)
}

type pendingWrite struct {
	sub   uint32
	done  func(error)
	timer *time.Timer
}

// session is one established connection.
type session struct {
	conn transport.Conn
	ka   *transport.KeepAlive
	done chan struct{}
}

// Source is a data source for the channels of a remote server.
type Source struct {
	*datasource.Base

	config  Config
	logger  *slog.Logger
	events  log.Logger
	opts    datasource.HandlerOptions
	manager *connection.Manager

	mu      sync.Mutex
	sess    *session
	ready   bool
	closing bool
	subs    map[uint32]*Channel
	nextSub uint32
	pending map[uint32]*pendingWrite
	nextMsg uint32
}

// New creates a remote data source and starts connecting in the
// background.
func New(config Config) (*Source, error) {
	if config.Address == "" {
		return nil, ErrNoAddress
	}
	if config.Name == "" {
		config.Name = Name
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Dial.EventLog == nil {
		config.Dial.EventLog = config.EventLog
	}
	if config.Resolver == nil && strings.HasPrefix(config.Address, mdnsScheme) {
		config.Resolver = discovery.NewMDNSBrowser(discovery.Config{})
	}

	s := &Source{
		config: config,
		logger: config.Logger,
		events: log.OrNoop(config.EventLog),
		opts: datasource.HandlerOptions{
			DataSource: config.Name,
			Logger:     config.Logger,
			EventLog:   config.EventLog,
			Metrics:    config.Metrics,
		},
		subs:    make(map[uint32]*Channel),
		pending: make(map[uint32]*pendingWrite),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.manager = connection.NewManager(s.connect, connection.Config{
		Backoff: config.Backoff,
		Logger:  s.logger.With("datasource", config.Name),
		OnStateChange: func(_, state connection.State) {
			if state == connection.StateConnected {
				s.activate()
			}
		},
	})
	s.Base = datasource.NewBase(s, config.Config)
	if err := s.manager.Start(); err != nil {
		s.Base.Close()
		return nil, err
	}
	return s, nil
}

// Provider returns a provider creating remote data sources for config.
func Provider(config Config) datasource.Provider {
	name := config.Name
	if name == "" {
		name = Name
	}
	return datasource.ProviderFunc(name, func() (datasource.DataSource, error) {
		return New(config)
	})
}

// CreateChannel implements datasource.ChannelFactory. The name is passed
// to the server unchanged.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %q", datasource.ErrMalformedChannelName, name)
	}
	c := &Channel{src: s, name: name}
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[connState, any](name, c, s.opts)
	return c, nil
}

// IsConnected reports whether the connection to the server is up.
func (s *Source) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close unsubscribes every channel, stops reconnecting and closes the
// connection.
func (s *Source) Close() error {
	err := s.Base.Close()
	s.manager.Close()

	s.mu.Lock()
	s.closing = true
	sess := s.sess
	s.mu.Unlock()

	if sess != nil {
		sess.conn.Close()
		if sess.done != nil {
			<-sess.done
		}
	}
	return err
}

func (s *Source) address(ctx context.Context) (string, error) {
	addr := s.config.Address
	name, ok := strings.CutPrefix(addr, mdnsScheme)
	if !ok {
		return addr, nil
	}
	svc, err := s.config.Resolver.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	return "tcp://" + svc.Address(), nil
}

// connect is the connection.ConnectFunc.
func (s *Source) connect(ctx context.Context) error {
	addr, err := s.address(ctx)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, addr, s.config.Dial)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		conn.Close()
		return datasource.ErrClosed
	}
	s.sess = &session{conn: conn}
	s.logger.Info("connected to server", "datasource", s.Name(), "address", addr)
	return nil
}

// activate starts the read loop and keep-alive of the new session and
// subscribes every channel in use.
func (s *Source) activate() {
	s.mu.Lock()
	sess := s.sess
	if sess == nil || sess.done != nil {
		s.mu.Unlock()
		return
	}
	sess.done = make(chan struct{})
	sess.ka = transport.NewKeepAlive(s.config.KeepAlive,
		func(seq uint32) error { return s.send(sess, wire.Ping(seq)) },
		func() {
			s.logger.Warn("server stopped answering pings", "datasource", s.Name())
			sess.conn.Close()
		})
	s.ready = true
	for id, c := range s.subs {
		if err := s.sendLocked(sess, wire.Subscribe(id, c.name)); err != nil {
			s.logger.Debug("resubscribe failed", "channel", c.name, "error", err)
		}
	}
	s.mu.Unlock()

	go s.readLoop(sess)
	sess.ka.Start(context.Background())
}

func (s *Source) readLoop(sess *session) {
	defer close(sess.done)
	for {
		data, err := sess.conn.Receive()
		if err != nil {
			s.lost(sess, err)
			return
		}
		m, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed message", "datasource", s.Name(), "error", err)
			continue
		}
		logMessage(s.events, s.Name(), sess.conn, log.DirectionIn, m)
		s.dispatch(sess, m)
	}
}

func (s *Source) dispatch(sess *session, m *wire.Message) {
	switch m.Type {
	case wire.MessageTypeUpdate:
		if c := s.channel(m.SubscriptionID); c != nil {
			c.ProcessMessage(wire.Normalize(m.Value))
		}
	case wire.MessageTypeConnection:
		if c := s.channel(m.SubscriptionID); c != nil {
			c.ProcessConnection(connState{Connected: m.Connected, WriteConnected: m.WriteConnected})
		}
	case wire.MessageTypeError:
		err := errorFor(m.Code, m.Error)
		if c := s.channel(m.SubscriptionID); c != nil {
			if isWriteCode(m.Code) {
				c.ReportWriteError(err)
			} else {
				c.ReportError(err)
			}
			return
		}
		s.logger.Warn("server error", "datasource", s.Name(), "error", err)
	case wire.MessageTypeWriteResult:
		if p := s.takePending(m.MessageID); p != nil {
			p.done(errorFor(m.Code, m.Error))
		}
	case wire.MessageTypePing:
		_ = s.send(sess, wire.Pong(m.MessageID))
	case wire.MessageTypePong:
		sess.ka.PongReceived(m.MessageID)
	case wire.MessageTypeClose:
		sess.conn.Close()
	}
}

// lost tears down sess and hands reconnection to the manager.
func (s *Source) lost(sess *session, err error) {
	sess.ka.Stop()
	sess.conn.Close()

	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return
	}
	s.sess = nil
	s.ready = false
	pending := s.pending
	s.pending = make(map[uint32]*pendingWrite)
	chans := make([]*Channel, 0, len(s.subs))
	for _, c := range s.subs {
		chans = append(chans, c)
	}
	closing := s.closing
	s.mu.Unlock()

	if !closing {
		s.logger.Warn("connection to server lost", "datasource", s.Name(), "error", err)
	}
	for _, p := range pending {
		p.timer.Stop()
		p.done(ErrConnectionLost)
	}
	for _, c := range chans {
		c.ProcessConnection(connState{})
	}
	s.manager.NotifyConnectionLost()
}

// subscribe registers c and reports whether the subscription was sent.
func (s *Source) subscribe(c *Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	if s.nextSub == 0 {
		s.nextSub++
	}
	c.sub = s.nextSub
	s.subs[c.sub] = c

	if !s.ready {
		return false
	}
	if err := s.sendLocked(s.sess, wire.Subscribe(c.sub, c.name)); err != nil {
		s.logger.Debug("subscribe failed", "channel", c.name, "error", err)
		return false
	}
	return true
}

func (s *Source) unsubscribe(c *Channel) {
	s.mu.Lock()
	sub := c.sub
	delete(s.subs, sub)
	c.sub = 0

	var orphaned []*pendingWrite
	for id, p := range s.pending {
		if p.sub == sub {
			orphaned = append(orphaned, p)
			delete(s.pending, id)
		}
	}
	if s.ready && sub != 0 {
		_ = s.sendLocked(s.sess, wire.Unsubscribe(sub))
	}
	s.mu.Unlock()

	for _, p := range orphaned {
		p.timer.Stop()
		p.done(datasource.ErrClosed)
	}
}

func (s *Source) write(c *Channel, value any, done func(error)) {
	s.mu.Lock()
	if !s.ready || c.sub == 0 {
		s.mu.Unlock()
		done(datasource.ErrNotWriteConnected)
		return
	}

	s.nextMsg++
	if s.nextMsg == 0 {
		s.nextMsg++
	}
	id := s.nextMsg
	p := &pendingWrite{sub: c.sub, done: done}
	p.timer = time.AfterFunc(s.config.WriteTimeout, func() {
		if p := s.takePending(id); p != nil {
			p.done(ErrWriteTimeout)
		}
	})
	s.pending[id] = p

	err := s.sendLocked(s.sess, wire.Write(id, c.sub, value))
	if err != nil {
		delete(s.pending, id)
		p.timer.Stop()
	}
	s.mu.Unlock()

	if err != nil {
		done(err)
	}
}

func (s *Source) takePending(id uint32) *pendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	p.timer.Stop()
	return p
}

func (s *Source) channel(sub uint32) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[sub]
}

func (s *Source) send(sess *session, m *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(sess, m)
}

// sendLocked sends while s.mu is held so subscribe and unsubscribe reach
// the server in the order they were made.
func (s *Source) sendLocked(sess *session, m *wire.Message) error {
	if sess == nil {
		return ErrConnectionLost
	}
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if err := sess.conn.Send(data); err != nil {
		return err
	}
	logMessage(s.events, s.Name(), sess.conn, log.DirectionOut, m)
	return nil
}

var (
	_ datasource.DataSource    = (*Source)(nil)
	_ datasource.ChannelWriter = (*Channel)(nil)
)
