package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/transport"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Logger for operational logging (default slog.Default()).
	Logger *slog.Logger

	// EventLog receives wire events (optional).
	EventLog log.Logger
}

// Server serves a DataSource to remote clients. Every client subscription
// becomes one reader and one writer on the data source.
type Server struct {
	ds     datasource.DataSource
	logger *slog.Logger
	events log.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// NewServer creates a server for ds. The caller keeps ownership of ds.
func NewServer(ds datasource.DataSource, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ds:     ds,
		logger: logger,
		events: log.OrNoop(config.EventLog),
		peers:  make(map[*peer]struct{}),
	}
}

// Serve handles one client connection until it closes or ctx is done.
// Every subscription of the client is released before Serve returns. It
// matches transport.ServerConfig.OnConnect.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) {
	p := &peer{
		srv:  s,
		conn: conn,
		subs: make(map[uint32]*gatewaySub),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-p.quit:
		}
	}()

	s.logger.Debug("client connected", "id", conn.ID(), "remote", conn.RemoteAddr())
	err := p.readLoop()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrConnClosed) {
		s.logger.Debug("client read failed", "id", conn.ID(), "error", err)
	}

	p.release()
	close(p.quit)
	conn.Close()
	wg.Wait()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	s.logger.Debug("client disconnected", "id", conn.ID())
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// SubscriptionCount returns the number of client subscriptions.
func (s *Server) SubscriptionCount() int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	n := 0
	for _, p := range peers {
		p.mu.Lock()
		n += len(p.subs)
		p.mu.Unlock()
	}
	return n
}

// peer is one client connection. Outgoing messages are queued and sent by
// writeLoop so data source callbacks never block on the network.
type peer struct {
	srv  *Server
	conn transport.Conn

	mu     sync.Mutex
	subs   map[uint32]*gatewaySub
	outbox []*wire.Message
	wake   chan struct{}
	quit   chan struct{}
}

func (p *peer) readLoop() error {
	for {
		data, err := p.conn.Receive()
		if err != nil {
			return err
		}
		m, err := wire.Decode(data)
		if err != nil {
			p.post(wire.Error(0, wire.ErrorCodeInvalidRequest, fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
			continue
		}
		logMessage(p.srv.events, "", p.conn, log.DirectionIn, m)
		if m.Type == wire.MessageTypeClose {
			return nil
		}
		p.handle(m)
	}
}

func (p *peer) handle(m *wire.Message) {
	switch m.Type {
	case wire.MessageTypeSubscribe:
		p.subscribe(m.SubscriptionID, m.Channel)
	case wire.MessageTypeUnsubscribe:
		p.mu.Lock()
		sub := p.subs[m.SubscriptionID]
		delete(p.subs, m.SubscriptionID)
		p.mu.Unlock()
		if sub != nil {
			sub.stop()
		}
	case wire.MessageTypeWrite:
		p.write(m)
	case wire.MessageTypePing:
		p.post(wire.Pong(m.MessageID))
	case wire.MessageTypePong:
	default:
		p.post(wire.Error(m.SubscriptionID, wire.ErrorCodeInvalidRequest,
			fmt.Errorf("%w: unexpected %s", ErrInvalidRequest, m.Type)))
	}
}

func (p *peer) subscribe(id uint32, channel string) {
	sub := &gatewaySub{peer: p, id: id, channel: channel, writer: collector.NewWrite[any]()}
	sub.reader = &forwarder{sub: sub}

	p.mu.Lock()
	prev := p.subs[id]
	p.subs[id] = sub
	p.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	sub.writer.SetUpdateListener(sub.onWriterEvent)
	p.srv.ds.StartRead(datasource.ReadSubscription{Channel: channel, Collector: sub.reader})
	p.srv.ds.StartWrite(datasource.WriteSubscription{Channel: channel, Collector: sub.writer})
}

func (p *peer) write(m *wire.Message) {
	p.mu.Lock()
	sub := p.subs[m.SubscriptionID]
	p.mu.Unlock()
	if sub == nil {
		p.post(wire.WriteResult(m.MessageID, m.SubscriptionID, wire.ErrorCodeInvalidRequest,
			fmt.Errorf("%w: unknown subscription %d", ErrInvalidRequest, m.SubscriptionID)))
		return
	}

	id, subID := m.MessageID, m.SubscriptionID
	reply := func(err error) {
		p.post(wire.WriteResult(id, subID, codeFor(err), err))
	}

	sub.writer.Set(wire.Normalize(m.Value))
	if err := sub.writer.Send(reply); err != nil {
		if cause := sub.writerError(); cause != nil {
			err = cause
		}
		reply(err)
	}
}

// release stops every subscription of the peer.
func (p *peer) release() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[uint32]*gatewaySub)
	p.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

// post queues m for sending.
func (p *peer) post(m *wire.Message) {
	p.mu.Lock()
	p.outbox = append(p.outbox, m)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.quit:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.outbox
		p.outbox = nil
		p.mu.Unlock()

		for _, m := range batch {
			data, err := wire.Encode(m)
			if err != nil {
				p.srv.logger.Warn("dropping unencodable message", "type", m.Type.String(), "error", err)
				continue
			}
			if err := p.conn.Send(data); err != nil {
				p.conn.Close()
				return
			}
			logMessage(p.srv.events, "", p.conn, log.DirectionOut, m)
		}
	}
}

// gatewaySub is one client subscription.
type gatewaySub struct {
	peer    *peer
	id      uint32
	channel string
	reader  *forwarder
	writer  *collector.Write[any]

	mu        sync.Mutex
	stopped   bool
	connected bool
	writable  bool
	writeErr  error
}

func (g *gatewaySub) stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()

	ds := g.peer.srv.ds
	ds.StopRead(datasource.ReadSubscription{Channel: g.channel, Collector: g.reader})
	ds.StopWrite(datasource.WriteSubscription{Channel: g.channel, Collector: g.writer})
}

func (g *gatewaySub) post(m *wire.Message) {
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if !stopped {
		g.peer.post(m)
	}
}

// setRead and setWrite record one connection flag and report both when
// either changed. The message is queued under g.mu so reports from the read
// and write side keep their order.
func (g *gatewaySub) setRead(connected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reportLocked(connected, g.writable)
}

func (g *gatewaySub) setWrite(writable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reportLocked(g.connected, writable)
}

func (g *gatewaySub) reportLocked(connected, writable bool) {
	if g.stopped || (g.connected == connected && g.writable == writable) {
		return
	}
	g.connected, g.writable = connected, writable
	g.peer.post(wire.Connection(g.id, connected, writable))
}

func (g *gatewaySub) onWriterEvent(ev collector.Event) {
	switch {
	case ev.Has(collector.EventWriteConnection):
		g.setWrite(g.writer.Connected())
	case ev.Has(collector.EventWriteError):
		g.mu.Lock()
		g.writeErr = ev.Err
		g.mu.Unlock()
		if code := codeFor(ev.Err); isWriteCode(code) {
			g.post(wire.Error(g.id, code, ev.Err))
		}
	}
}

func (g *gatewaySub) writerError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeErr
}

// forwarder is the read collector of a gateway subscription. It sends what
// the channel delivers to the client instead of storing it.
type forwarder struct {
	sub *gatewaySub

	mu        sync.Mutex
	connected bool
}

func (f *forwarder) ValueType() reflect.Type { return reflect.TypeFor[any]() }

func (f *forwarder) UpdateValue(v any) error {
	f.sub.post(wire.Update(f.sub.id, v))
	return nil
}

func (f *forwarder) UpdateValueAndConnection(v any, connected bool) error {
	f.UpdateConnection(connected)
	return f.UpdateValue(v)
}

func (f *forwarder) UpdateConnection(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
	f.sub.setRead(connected)
}

func (f *forwarder) NotifyError(err error) {
	f.sub.post(wire.Error(f.sub.id, codeFor(err), err))
}

func (f *forwarder) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *forwarder) SetUpdateListener(collector.Listener) {}

var _ collector.ReadCollector = (*forwarder)(nil)
