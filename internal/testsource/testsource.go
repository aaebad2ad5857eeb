// Package testsource provides a controllable in-memory backend for tests.
package testsource

import (
	"errors"
	"strings"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Channel is a backend channel whose connection and messages are driven by
// the test. The connection payload is the connected flag.
type Channel struct {
	*datasource.MultiplexedChannelHandler[bool, any]

	mu          sync.Mutex
	connects    int
	disconnects int
	connectErr  error
	autoConnect bool
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithConnectError makes Connect fail with err.
func WithConnectError(err error) ChannelOption {
	return func(c *Channel) { c.connectErr = err }
}

// WithManualConnect stops Connect from reporting a connection. The test
// calls ProcessConnection itself.
func WithManualConnect() ChannelOption {
	return func(c *Channel) { c.autoConnect = false }
}

func newChannel(opts []ChannelOption) *Channel {
	c := &Channel{autoConnect: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChannel creates a read-only channel.
func NewChannel(name string, handlerOpts datasource.HandlerOptions, opts ...ChannelOption) *Channel {
	c := newChannel(opts)
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](name, c, handlerOpts)
	return c
}

// Connect implements datasource.ChannelConnector.
func (c *Channel) Connect() error {
	c.mu.Lock()
	c.connects++
	err, auto := c.connectErr, c.autoConnect
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		c.ProcessConnection(true)
	}
	return nil
}

// Disconnect implements datasource.ChannelConnector.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	return nil
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(payload bool) bool {
	return payload
}

// Connects returns how often Connect was called.
func (c *Channel) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Disconnects returns how often Disconnect was called.
func (c *Channel) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// WritableChannel is a Channel that accepts writes and echoes every written
// value back as a message.
type WritableChannel struct {
	*Channel

	wmu      sync.Mutex
	writes   []any
	writeErr error
}

// NewWritableChannel creates a writable channel.
func NewWritableChannel(name string, handlerOpts datasource.HandlerOptions, opts ...ChannelOption) *WritableChannel {
	w := &WritableChannel{Channel: newChannel(opts)}
	w.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](name, w, handlerOpts)
	return w
}

// CheckWriteConnected implements datasource.WriteConnectionChecker.
func (w *WritableChannel) CheckWriteConnected(payload bool) bool {
	return payload
}

// WriteValue implements datasource.ChannelWriter.
func (w *WritableChannel) WriteValue(value any, done func(error)) {
	w.wmu.Lock()
	err := w.writeErr
	if err == nil {
		w.writes = append(w.writes, value)
	}
	w.wmu.Unlock()

	if err == nil {
		w.ProcessMessage(value)
	}
	done(err)
}

// FailWrites makes later writes fail with err. Nil restores success.
func (w *WritableChannel) FailWrites(err error) {
	w.wmu.Lock()
	w.writeErr = err
	w.wmu.Unlock()
}

// Writes returns the values written so far.
func (w *WritableChannel) Writes() []any {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return append([]any(nil), w.writes...)
}

// ErrPanic is the value CreateChannel panics with for the channel "panic".
var ErrPanic = errors.New("testsource: panic requested")

// Source is a data source creating Channels on demand. Names starting with
// "missing" are not found, "panic" panics, names starting with "rw" are
// writable.
type Source struct {
	*datasource.Base

	mu          sync.Mutex
	channels    map[string]*Channel
	writable    map[string]*WritableChannel
	handlerOpts datasource.HandlerOptions
	channelOpts []ChannelOption
}

// New creates a Source called name.
func New(name string, channelOpts ...ChannelOption) *Source {
	s := &Source{
		channels:    make(map[string]*Channel),
		writable:    make(map[string]*WritableChannel),
		handlerOpts: datasource.HandlerOptions{DataSource: name},
		channelOpts: channelOpts,
	}
	s.Base = datasource.NewBase(s, datasource.DefaultConfig(name))
	return s
}

// CreateChannel implements datasource.ChannelFactory.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	switch {
	case strings.HasPrefix(name, "missing"):
		return nil, datasource.ErrChannelNotFound
	case name == "panic":
		panic(ErrPanic)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.HasPrefix(name, "rw") {
		w := NewWritableChannel(name, s.handlerOpts, s.channelOpts...)
		s.writable[name] = w
		s.channels[name] = w.Channel
		return w, nil
	}
	c := NewChannel(name, s.handlerOpts, s.channelOpts...)
	s.channels[name] = c
	return c, nil
}

// TestChannel returns the channel created for name, or nil.
func (s *Source) TestChannel(name string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[name]
}

// WritableTestChannel returns the writable channel created for name, or nil.
func (s *Source) WritableTestChannel(name string) *WritableChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable[name]
}
