package pv

import (
	"maps"
	"slices"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Director is what expressions see of the reader they belong to.
type Director interface {
	RegisterCollector(c collector.ReadCollector)
	DeregisterCollector(c collector.ReadCollector)
	ConnectReadExpression(e ReadExpression)
	DisconnectReadExpression(e ReadExpression)
	StartReadSubscription(sub datasource.ReadSubscription)
	StopReadSubscription(sub datasource.ReadSubscription)
}

// ReadExpression is a node of an expression tree. StartRead attaches its
// collectors and subscriptions to the director; StopRead detaches them.
type ReadExpression interface {
	Name() string
	StartRead(d Director)
	StopRead(d Director)
}

// Expression is a ReadExpression producing values of type T. ReadValue
// reports false when no value is available yet.
type Expression[T any] interface {
	ReadExpression
	ReadValue() (T, bool, error)
}

// ChannelExpression reads the latest value of one channel.
type ChannelExpression[T any] struct {
	name      string
	collector *collector.LatestValue[T]
}

// Channel returns an expression for the latest value of the named channel.
func Channel[T any](name string) *ChannelExpression[T] {
	return &ChannelExpression[T]{name: name, collector: collector.NewLatestValue[T]()}
}

// Name returns the channel name.
func (e *ChannelExpression[T]) Name() string { return e.name }

// StartRead implements ReadExpression.
func (e *ChannelExpression[T]) StartRead(d Director) {
	d.RegisterCollector(e.collector)
	d.StartReadSubscription(datasource.ReadSubscription{Channel: e.name, Collector: e.collector})
}

// StopRead implements ReadExpression.
func (e *ChannelExpression[T]) StopRead(d Director) {
	d.StopReadSubscription(datasource.ReadSubscription{Channel: e.name, Collector: e.collector})
	d.DeregisterCollector(e.collector)
}

// Value returns the latest value.
func (e *ChannelExpression[T]) Value() (T, bool) {
	return e.collector.Get()
}

// ReadValue implements Expression.
func (e *ChannelExpression[T]) ReadValue() (T, bool, error) {
	v, ok := e.collector.Get()
	return v, ok, nil
}

// QueueExpression reads every value of a channel since the last
// notification.
type QueueExpression[T any] struct {
	name      string
	collector *collector.Queue[T]
}

// NewestValues returns an expression delivering up to max values per
// notification, oldest first.
func NewestValues[T any](name string, max int) *QueueExpression[T] {
	return &QueueExpression[T]{name: name, collector: collector.NewQueue[T](max)}
}

// Name returns the channel name.
func (e *QueueExpression[T]) Name() string { return e.name }

// StartRead implements ReadExpression.
func (e *QueueExpression[T]) StartRead(d Director) {
	d.RegisterCollector(e.collector)
	d.StartReadSubscription(datasource.ReadSubscription{Channel: e.name, Collector: e.collector})
}

// StopRead implements ReadExpression.
func (e *QueueExpression[T]) StopRead(d Director) {
	d.StopReadSubscription(datasource.ReadSubscription{Channel: e.name, Collector: e.collector})
	d.DeregisterCollector(e.collector)
}

// ReadValue drains the queue.
func (e *QueueExpression[T]) ReadValue() ([]T, bool, error) {
	values := e.collector.Drain()
	return values, len(values) > 0, nil
}

// MapExpression reads a dynamic set of channels. Its value maps each
// channel name to its latest value, for the channels that have one.
type MapExpression[T any] struct {
	name string

	mu       sync.Mutex
	children map[string]*ChannelExpression[T]
	director Director
}

// MapOf returns a map expression over the given channels.
func MapOf[T any](channels ...*ChannelExpression[T]) *MapExpression[T] {
	m := &MapExpression[T]{name: "map", children: make(map[string]*ChannelExpression[T])}
	for _, c := range channels {
		m.children[c.Name()] = c
	}
	return m
}

// Name returns "map".
func (m *MapExpression[T]) Name() string { return m.name }

// Add adds a channel. On a running reader the channel is connected
// immediately. A channel of the same name is replaced.
func (m *MapExpression[T]) Add(c *ChannelExpression[T]) {
	m.mu.Lock()
	old := m.children[c.Name()]
	m.children[c.Name()] = c
	d := m.director
	m.mu.Unlock()

	if d == nil {
		return
	}
	if old != nil {
		d.DisconnectReadExpression(old)
	}
	d.ConnectReadExpression(c)
}

// Remove removes a channel by name.
func (m *MapExpression[T]) Remove(name string) {
	m.mu.Lock()
	c := m.children[name]
	delete(m.children, name)
	d := m.director
	m.mu.Unlock()

	if d != nil && c != nil {
		d.DisconnectReadExpression(c)
	}
}

// Names returns the sorted channel names.
func (m *MapExpression[T]) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.children))
}

// StartRead connects every child.
func (m *MapExpression[T]) StartRead(d Director) {
	m.mu.Lock()
	m.director = d
	children := maps.Clone(m.children)
	m.mu.Unlock()

	for _, c := range children {
		d.ConnectReadExpression(c)
	}
}

// StopRead disconnects every child.
func (m *MapExpression[T]) StopRead(d Director) {
	m.mu.Lock()
	m.director = nil
	children := maps.Clone(m.children)
	m.mu.Unlock()

	for _, c := range children {
		d.DisconnectReadExpression(c)
	}
}

// ReadValue implements Expression.
func (m *MapExpression[T]) ReadValue() (map[string]T, bool, error) {
	m.mu.Lock()
	children := maps.Clone(m.children)
	m.mu.Unlock()

	out := make(map[string]T, len(children))
	for name, c := range children {
		if v, ok := c.Value(); ok {
			out[name] = v
		}
	}
	return out, len(out) > 0, nil
}

// transform applies a function to the value of another expression.
type transform[T, U any] struct {
	source Expression[T]
	fn     func(T) (U, error)
}

// Transform returns an expression whose value is fn applied to the value of
// source. An error from fn is delivered as an error event.
func Transform[T, U any](source Expression[T], fn func(T) (U, error)) Expression[U] {
	return &transform[T, U]{source: source, fn: fn}
}

func (t *transform[T, U]) Name() string          { return t.source.Name() }
func (t *transform[T, U]) StartRead(d Director) { d.ConnectReadExpression(t.source) }
func (t *transform[T, U]) StopRead(d Director)  { d.DisconnectReadExpression(t.source) }

func (t *transform[T, U]) ReadValue() (U, bool, error) {
	var zero U
	v, ok, err := t.source.ReadValue()
	if err != nil || !ok {
		return zero, false, err
	}
	u, err := t.fn(v)
	if err != nil {
		return zero, false, err
	}
	return u, true, nil
}

var (
	_ Expression[int]            = (*ChannelExpression[int])(nil)
	_ Expression[[]int]          = (*QueueExpression[int])(nil)
	_ Expression[map[string]int] = (*MapExpression[int])(nil)
)
