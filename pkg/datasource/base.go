package datasource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
)

// ChannelFactory creates the handler for a channel name.
type ChannelFactory interface {
	CreateChannel(name string) (ChannelHandler, error)
}

// ChannelFactoryFunc adapts a function to ChannelFactory.
type ChannelFactoryFunc func(name string) (ChannelHandler, error)

// CreateChannel implements ChannelFactory.
func (f ChannelFactoryFunc) CreateChannel(name string) (ChannelHandler, error) {
	return f(name)
}

// LookupNamer maps a subscription name to the cache key used to find an
// existing handler. Several names may share one handler.
type LookupNamer interface {
	ChannelHandlerLookupName(name string) string
}

// RegisterNamer maps a newly created handler to its cache key.
type RegisterNamer interface {
	ChannelHandlerRegisterName(name string, h ChannelHandler) string
}

// Config configures a Base data source.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// EventLog receives data source events. Optional.
	EventLog log.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// DefaultConfig returns the configuration for a backend called name.
func DefaultConfig(name string) Config {
	return Config{Name: name}
}

type opKind uint8

const (
	opStartRead opKind = iota
	opStopRead
	opStartWrite
	opStopWrite
	opFlush
)

func (k opKind) String() string {
	switch k {
	case opStartRead:
		return "start read"
	case opStopRead:
		return "stop read"
	case opStartWrite:
		return "start write"
	case opStopWrite:
		return "stop write"
	case opFlush:
		return "flush"
	default:
		return "unknown"
	}
}

type op struct {
	kind    opKind
	read    ReadSubscription
	write   WriteSubscription
	flushed chan struct{}
}

func (o op) channel() string {
	if o.kind == opStartRead || o.kind == opStopRead {
		return o.read.Channel
	}
	return o.write.Channel
}

// Base is a DataSource for a single backend. Subscription work runs on one
// worker goroutine in submission order.
type Base struct {
	name    string
	factory ChannelFactory
	logger  *slog.Logger
	events  log.Logger
	metrics *metrics.Collector

	channels sync.Map // string -> ChannelHandler

	mu     sync.Mutex
	queue  []op
	reads  map[ReadSubscription]ChannelHandler
	writes map[WriteSubscription]ChannelHandler
	closed bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	wg     sync.WaitGroup
}

// NewBase creates a data source backed by factory and starts its worker.
// factory may also implement LookupNamer and RegisterNamer.
func NewBase(factory ChannelFactory, config Config) *Base {
	b := &Base{
		name:    config.Name,
		factory: factory,
		logger:  config.Logger,
		events:  log.OrNoop(config.EventLog),
		metrics: config.Metrics,
		reads:   make(map[ReadSubscription]ChannelHandler),
		writes:  make(map[WriteSubscription]ChannelHandler),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	b.wg.Add(1)
	go b.run()
	return b
}

// Name returns the backend name.
func (b *Base) Name() string {
	return b.name
}

// StartRead enqueues attaching sub.Collector as a reader of sub.Channel.
func (b *Base) StartRead(sub ReadSubscription) {
	if !b.enqueue(op{kind: opStartRead, read: sub}) {
		sub.Collector.NotifyError(&ChannelError{DataSource: b.name, Channel: sub.Channel, Err: ErrClosed})
	}
}

// StopRead enqueues detaching a reader.
func (b *Base) StopRead(sub ReadSubscription) {
	b.enqueue(op{kind: opStopRead, read: sub})
}

// StartWrite enqueues attaching sub.Collector as a writer of sub.Channel.
func (b *Base) StartWrite(sub WriteSubscription) {
	if !b.enqueue(op{kind: opStartWrite, write: sub}) {
		sub.Collector.NotifyError(&ChannelError{DataSource: b.name, Channel: sub.Channel, Err: ErrClosed})
	}
}

// StopWrite enqueues detaching a writer.
func (b *Base) StopWrite(sub WriteSubscription) {
	b.enqueue(op{kind: opStopWrite, write: sub})
}

// Flush blocks until every operation queued before the call has been
// processed. It returns immediately after Close.
func (b *Base) Flush() {
	flushed := make(chan struct{})
	if !b.enqueue(op{kind: opFlush, flushed: flushed}) {
		return
	}
	select {
	case <-flushed:
	case <-b.exited:
	}
}

func (b *Base) enqueue(o op) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, o)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// run drains the queue until Close. Work queued before Close is processed.
func (b *Base) run() {
	defer b.wg.Done()
	defer close(b.exited)
	for {
		select {
		case <-b.wake:
		case <-b.done:
		}

		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			o := b.queue[0]
			b.queue[0] = op{}
			b.queue = b.queue[1:]
			b.mu.Unlock()

			b.process(o)
		}
	}
}

// process performs one operation. Errors and panics are routed to the
// subscription's collector.
func (b *Base) process(o op) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(o, fmt.Errorf("panic during %s: %v", o.kind, r))
		}
	}()

	switch o.kind {
	case opStartRead:
		b.startRead(o)
	case opStopRead:
		b.stopRead(o)
	case opStartWrite:
		b.startWrite(o)
	case opStopWrite:
		b.stopWrite(o)
	case opFlush:
		close(o.flushed)
	}
}

func (b *Base) startRead(o op) {
	b.mu.Lock()
	_, dup := b.reads[o.read]
	b.mu.Unlock()
	if dup {
		b.logger.Warn("read subscription already started", "datasource", b.name, "channel", o.read.Channel)
		return
	}

	h, err := b.channel(o.read.Channel)
	if err != nil {
		b.fail(o, err)
		return
	}
	h.AddReader(o.read.Collector)

	b.mu.Lock()
	b.reads[o.read] = h
	b.mu.Unlock()
	b.metrics.ReaderAdded(b.name)
	b.logger.Debug("read started", "datasource", b.name, "channel", o.read.Channel)
}

func (b *Base) stopRead(o op) {
	b.mu.Lock()
	h, ok := b.reads[o.read]
	delete(b.reads, o.read)
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("stop of read subscription that was never started", "datasource", b.name, "channel", o.read.Channel)
		return
	}

	h.RemoveReader(o.read.Collector)
	b.metrics.ReaderRemoved(b.name)
	b.logger.Debug("read stopped", "datasource", b.name, "channel", o.read.Channel)
}

func (b *Base) startWrite(o op) {
	b.mu.Lock()
	_, dup := b.writes[o.write]
	b.mu.Unlock()
	if dup {
		b.logger.Warn("write subscription already started", "datasource", b.name, "channel", o.write.Channel)
		return
	}

	h, err := b.channel(o.write.Channel)
	if err != nil {
		b.fail(o, err)
		return
	}
	h.AddWriter(o.write.Collector)

	b.mu.Lock()
	b.writes[o.write] = h
	b.mu.Unlock()
	b.metrics.WriterAdded(b.name)
	b.logger.Debug("write started", "datasource", b.name, "channel", o.write.Channel)
}

func (b *Base) stopWrite(o op) {
	b.mu.Lock()
	h, ok := b.writes[o.write]
	delete(b.writes, o.write)
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("stop of write subscription that was never started", "datasource", b.name, "channel", o.write.Channel)
		return
	}

	h.RemoveWriter(o.write.Collector)
	b.metrics.WriterRemoved(b.name)
	b.logger.Debug("write stopped", "datasource", b.name, "channel", o.write.Channel)
}

// fail routes err to the collector of o.
func (b *Base) fail(o op, err error) {
	var ce *ChannelError
	if !errors.As(err, &ce) {
		err = &ChannelError{DataSource: b.name, Channel: o.channel(), Err: err}
	}
	b.logger.Debug("subscription failed", "datasource", b.name, "op", o.kind.String(), "error", err)
	b.metrics.Error(ErrorKind(err))
	b.events.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerDataSource,
		Category:   log.CategoryError,
		DataSource: b.name,
		Channel:    o.channel(),
		Error:      &log.ErrorEventData{Layer: log.LayerDataSource, Message: err.Error(), Context: o.kind.String()},
	})

	switch o.kind {
	case opStartRead, opStopRead:
		o.read.Collector.NotifyError(err)
	case opStartWrite, opStopWrite:
		o.write.Collector.NotifyError(err)
	}
}

// channel returns the cached handler for name, creating it if needed.
func (b *Base) channel(name string) (ChannelHandler, error) {
	if h := b.Channel(name); h != nil {
		return h, nil
	}

	h, err := b.factory.CreateChannel(name)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	}
	if h == nil {
		return nil, ErrChannelNotFound
	}

	key := b.lookupName(name)
	if rn, ok := b.factory.(RegisterNamer); ok {
		key = rn.ChannelHandlerRegisterName(name, h)
	}
	if _, loaded := b.channels.Swap(key, h); !loaded {
		b.metrics.ChannelCreated(b.name)
	}
	return h, nil
}

func (b *Base) lookupName(name string) string {
	if ln, ok := b.factory.(LookupNamer); ok {
		return ln.ChannelHandlerLookupName(name)
	}
	return name
}

// Channel returns the cached handler for name, or nil.
func (b *Base) Channel(name string) ChannelHandler {
	v, ok := b.channels.Load(b.lookupName(name))
	if !ok {
		return nil
	}
	return v.(ChannelHandler)
}

// Channels returns a snapshot of the cached handlers.
func (b *Base) Channels() map[string]ChannelHandler {
	out := make(map[string]ChannelHandler)
	b.channels.Range(func(k, v any) bool {
		out[k.(string)] = v.(ChannelHandler)
		return true
	})
	return out
}

// ActiveReads returns the number of started read subscriptions.
func (b *Base) ActiveReads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads)
}

// ActiveWrites returns the number of started write subscriptions.
func (b *Base) ActiveWrites() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

// Close processes the work already queued, stops the worker and detaches
// every remaining reader and writer, which disconnects their channels.
// Calling Close more than once is safe.
func (b *Base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	b.mu.Lock()
	reads, writes := b.reads, b.writes
	b.reads = make(map[ReadSubscription]ChannelHandler)
	b.writes = make(map[WriteSubscription]ChannelHandler)
	b.mu.Unlock()

	for sub, h := range reads {
		h.RemoveReader(sub.Collector)
		b.metrics.ReaderRemoved(b.name)
	}
	for sub, h := range writes {
		h.RemoveWriter(sub.Collector)
		b.metrics.WriterRemoved(b.name)
	}

	b.metrics.ChannelsReleased(b.name, len(b.Channels()))
	b.logger.Debug("data source closed", "datasource", b.name,
		"reads", len(reads), "writes", len(writes))
	return nil
}

var _ DataSource = (*Base)(nil)
