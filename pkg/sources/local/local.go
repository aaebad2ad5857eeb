// Package local implements the "loc" backend: in-memory channels that any
// reader can write.
//
// A channel name may carry an initial value, as in "x(3)", "s(\"text\")",
// "v(1,2,3)" or "names(\"a\",\"b\")". The initializer is not part of the
// channel identity, so "x(3)" and "x" refer to the same channel.
package local

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Name is the conventional backend name.
const Name = "loc"

// Channel is one in-memory channel. It is always connected while in use and
// keeps its value between uses.
type Channel struct {
	*datasource.MultiplexedChannelHandler[bool, any]

	mu     sync.Mutex
	family family
}

func newChannel(name string, initial any, opts datasource.HandlerOptions) *Channel {
	opts.RetainLastMessageOnDisconnect = true
	opts.ReplayLastMessageOnConnect = true

	c := &Channel{}
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](name, c, opts)
	if initial != nil {
		c.family = familyOf(initial)
		c.ProcessMessage(initial)
	}
	return c
}

// initialize sets v as the value if the channel has none.
func (c *Channel) initialize(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.LastMessage(); ok {
		return
	}
	c.family = familyOf(v)
	c.ProcessMessage(v)
}

// Connect implements datasource.ChannelConnector.
func (c *Channel) Connect() error {
	c.ProcessConnection(true)
	return nil
}

// Disconnect implements datasource.ChannelConnector.
func (c *Channel) Disconnect() error {
	return nil
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(connected bool) bool { return connected }

// CheckWriteConnected implements datasource.WriteConnectionChecker.
func (c *Channel) CheckWriteConnected(connected bool) bool { return connected }

// WriteValue implements datasource.ChannelWriter. The value must keep the
// kind of value the channel already holds.
func (c *Channel) WriteValue(value any, done func(error)) {
	v, f, err := normalize(value)
	if err != nil {
		done(err)
		return
	}

	c.mu.Lock()
	if c.family != familyNone && c.family != f {
		want := c.family
		c.mu.Unlock()
		done(fmt.Errorf("%w: channel holds %s, got %s", ErrTypeFamily, want, f))
		return
	}
	c.family = f
	c.mu.Unlock()

	c.ProcessMessage(v)
	done(nil)
}

// Source is the local data source.
type Source struct {
	*datasource.Base

	opts datasource.HandlerOptions

	mu       sync.Mutex
	declared map[string]any
}

// New creates a local data source.
func New(config datasource.Config) *Source {
	if config.Name == "" {
		config.Name = Name
	}
	s := &Source{
		opts: datasource.HandlerOptions{
			DataSource: config.Name,
			Logger:     config.Logger,
			EventLog:   config.EventLog,
			Metrics:    config.Metrics,
		},
		declared: make(map[string]any),
	}
	s.Base = datasource.NewBase(s, config)
	return s
}

// Provider returns a provider creating local data sources.
func Provider(config datasource.Config) datasource.Provider {
	name := config.Name
	if name == "" {
		name = Name
	}
	return datasource.ProviderFunc(name, func() (datasource.DataSource, error) {
		return New(config), nil
	})
}

// StartRead checks the initializer of the name against earlier
// declarations before subscribing.
func (s *Source) StartRead(sub datasource.ReadSubscription) {
	if err := s.declare(sub.Channel); err != nil {
		sub.Collector.NotifyError(&datasource.ChannelError{DataSource: s.Name(), Channel: sub.Channel, Err: err})
		return
	}
	s.Base.StartRead(sub)
}

// StartWrite checks the initializer like StartRead.
func (s *Source) StartWrite(sub datasource.WriteSubscription) {
	if err := s.declare(sub.Channel); err != nil {
		sub.Collector.NotifyError(&datasource.ChannelError{DataSource: s.Name(), Channel: sub.Channel, Err: err})
		return
	}
	s.Base.StartWrite(sub)
}

// declare records the initial value of name. The first declaration wins;
// a later different one is an error for that subscription only.
func (s *Source) declare(name string) error {
	base, init, ok := splitName(name)
	if !ok {
		return nil
	}
	v, err := parseInitializer(init)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, found := s.declared[base]; found {
		if !reflect.DeepEqual(prev, v) {
			return fmt.Errorf("%w: %v then %v", ErrInitialValueMismatch, prev, v)
		}
		return nil
	}
	s.declared[base] = v

	// The channel may exist already from a name without initializer.
	if h, ok := s.Base.Channel(base).(*Channel); ok {
		h.initialize(v)
	}
	return nil
}

// CreateChannel implements datasource.ChannelFactory.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	base, _, _ := splitName(name)
	if base == "" {
		return nil, fmt.Errorf("%w: %q", datasource.ErrMalformedChannelName, name)
	}

	s.mu.Lock()
	initial := s.declared[base]
	s.mu.Unlock()
	return newChannel(base, initial, s.opts), nil
}

// ChannelHandlerLookupName implements datasource.LookupNamer.
func (s *Source) ChannelHandlerLookupName(name string) string {
	base, _, _ := splitName(name)
	return base
}

var (
	_ datasource.DataSource    = (*Source)(nil)
	_ datasource.LookupNamer   = (*Source)(nil)
	_ datasource.ChannelWriter = (*Channel)(nil)
)
