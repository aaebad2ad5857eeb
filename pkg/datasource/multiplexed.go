package datasource

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
)

// HandlerOptions configures a MultiplexedChannelHandler.
type HandlerOptions struct {
	// DataSource labels log events and metrics.
	DataSource string

	// ReplayLastMessageOnConnect re-delivers the last message when the
	// channel connects.
	ReplayLastMessageOnConnect bool

	// ReplayLastMessageOnDisconnect re-delivers the last message when the
	// channel disconnects.
	ReplayLastMessageOnDisconnect bool

	// RetainLastMessageOnDisconnect keeps the last message for the next
	// connection instead of discarding it.
	RetainLastMessageOnDisconnect bool

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// EventLog receives channel events. Optional.
	EventLog log.Logger

	// Metrics records connects and disconnects. Optional.
	Metrics *metrics.Collector
}

// monitor pairs a reader with the adapter resolved for the current
// connection payload.
type monitor[C, M any] struct {
	collector collector.ReadCollector
	adapter   TypeAdapter[C, M]
}

type writer struct {
	collector collector.WriteCollector
}

// MultiplexedChannelHandler implements ChannelHandler for backends that
// deliver a connection payload of type C and messages of type M.
//
// Attach and detach are serialized by transMu, which is held across the
// backend Connect and Disconnect calls; the state itself is guarded by mu
// so a backend may call ProcessConnection from inside Connect.
//
// Collectors are never called with mu held. Notifications are queued under
// mu and delivered in order by whichever goroutine finds the queue idle, so
// a listener may call back into the handler.
type MultiplexedChannelHandler[C, M any] struct {
	name      string
	connector ChannelConnector
	opts      HandlerOptions
	logger    *slog.Logger
	adapters  []TypeAdapter[C, M]

	transMu sync.Mutex

	// writeConnected is read by the write path without taking mu.
	writeConnected atomic.Bool

	mu          sync.Mutex
	monitors    []*monitor[C, M]
	writers     []*writer
	readUsage   int
	writeUsage  int
	connected   bool
	connPayload C
	hasConn     bool
	lastMessage M
	hasMessage  bool
	notices     []func()
	notifying   bool
}

// NewMultiplexedChannelHandler creates a handler for the channel name.
// connector is usually the backend type embedding the handler; it is
// inspected for the optional ConnectionChecker, WriteConnectionChecker,
// ChannelWriter, TypeAdapterFinder and ParameterSubscriber interfaces.
func NewMultiplexedChannelHandler[C, M any](name string, connector ChannelConnector, opts HandlerOptions) *MultiplexedChannelHandler[C, M] {
	h := &MultiplexedChannelHandler[C, M]{
		name:      name,
		connector: connector,
		opts:      opts,
		logger:    opts.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.adapters = []TypeAdapter[C, M]{DirectTypeAdapter[C, M]{}}
	return h
}

// SetTypeAdapters replaces the adapters used when the connector does not
// implement TypeAdapterFinder. The default is a single DirectTypeAdapter.
func (h *MultiplexedChannelHandler[C, M]) SetTypeAdapters(adapters ...TypeAdapter[C, M]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters = adapters
}

// ChannelName returns the channel name.
func (h *MultiplexedChannelHandler[C, M]) ChannelName() string {
	return h.name
}

// AddReader attaches c. A reader joining a channel already in use receives
// the current connection state and last message immediately.
func (h *MultiplexedChannelHandler[C, M]) AddReader(c collector.ReadCollector) {
	h.transMu.Lock()
	defer h.transMu.Unlock()

	h.mu.Lock()
	h.readUsage++
	m := &monitor[C, M]{collector: c}
	h.monitors = append(h.monitors, m)
	h.resolveAdapterLocked(m)
	usage := h.usageLocked()
	if usage > 1 {
		if h.hasConn {
			connected := h.connected
			h.enqueueLocked(func() { c.UpdateConnection(connected) })
		}
		if h.hasMessage {
			h.deliverLocked(m, h.lastMessage)
		}
	}
	h.unlockAndNotify()

	h.logSubscription(log.ActionAddReader, usage)
	h.guardedConnect(usage)
}

// RemoveReader detaches c. Removing an unknown reader does nothing.
func (h *MultiplexedChannelHandler[C, M]) RemoveReader(c collector.ReadCollector) {
	h.transMu.Lock()
	defer h.transMu.Unlock()

	h.mu.Lock()
	idx := slices.IndexFunc(h.monitors, func(m *monitor[C, M]) bool { return m.collector == c })
	if idx < 0 {
		h.mu.Unlock()
		return
	}
	h.monitors = slices.Delete(h.monitors, idx, idx+1)
	h.readUsage--
	usage := h.usageLocked()
	h.mu.Unlock()

	h.logSubscription(log.ActionRemoveReader, usage)
	h.guardedDisconnect(usage)
}

// AddWriter attaches c. On a read-only channel c receives ErrReadOnly and is
// not attached.
func (h *MultiplexedChannelHandler[C, M]) AddWriter(c collector.WriteCollector) {
	h.transMu.Lock()
	defer h.transMu.Unlock()

	cw, ok := h.connector.(ChannelWriter)
	if !ok {
		c.NotifyError(&ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: ErrReadOnly})
		h.opts.Metrics.Error(metrics.KindCapability)
		return
	}

	h.mu.Lock()
	h.writeUsage++
	h.writers = append(h.writers, &writer{collector: c})
	usage := h.usageLocked()
	h.mu.Unlock()

	c.SetWriteNotification(func(req *collector.WriteRequest) {
		if !h.writeConnected.Load() {
			req.Failed(&ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: ErrNotWriteConnected})
			return
		}
		cw.WriteValue(req.Value, func(err error) {
			if err != nil {
				req.Failed(err)
				return
			}
			req.Succeeded()
		})
	})

	h.logSubscription(log.ActionAddWriter, usage)
	h.guardedConnect(usage)

	h.mu.Lock()
	writeConnected := h.writeConnected.Load()
	h.enqueueLocked(func() { c.UpdateConnection(writeConnected) })
	h.unlockAndNotify()
}

// RemoveWriter detaches c. Removing an unknown writer does nothing.
func (h *MultiplexedChannelHandler[C, M]) RemoveWriter(c collector.WriteCollector) {
	h.transMu.Lock()
	defer h.transMu.Unlock()

	h.mu.Lock()
	idx := slices.IndexFunc(h.writers, func(w *writer) bool { return w.collector == c })
	if idx < 0 {
		h.mu.Unlock()
		return
	}
	h.writers = slices.Delete(h.writers, idx, idx+1)
	h.writeUsage--
	usage := h.usageLocked()
	h.mu.Unlock()

	c.SetWriteNotification(nil)
	h.logSubscription(log.ActionRemoveWriter, usage)
	h.guardedDisconnect(usage)
}

// guardedConnect calls Connect on the 0->1 usage transition.
func (h *MultiplexedChannelHandler[C, M]) guardedConnect(usage int) {
	if usage != 1 {
		return
	}
	h.logger.Debug("connecting channel", "datasource", h.opts.DataSource, "channel", h.name)
	h.logState("", "CONNECTING")

	if err := h.safeCall(h.connector.Connect); err != nil {
		h.logger.Warn("channel connect failed", "datasource", h.opts.DataSource, "channel", h.name, "error", err)
		h.ReportError(fmt.Errorf("%w: %w", ErrConnect, err))
		return
	}
	h.opts.Metrics.Connected(h.opts.DataSource)
}

// guardedDisconnect calls Disconnect on the 1->0 usage transition and resets
// the connection state.
func (h *MultiplexedChannelHandler[C, M]) guardedDisconnect(usage int) {
	if usage != 0 {
		return
	}
	h.logger.Debug("disconnecting channel", "datasource", h.opts.DataSource, "channel", h.name)

	if err := h.safeCall(h.connector.Disconnect); err != nil {
		h.logger.Warn("channel disconnect failed", "datasource", h.opts.DataSource, "channel", h.name, "error", err)
	}
	h.opts.Metrics.Disconnected(h.opts.DataSource)

	h.mu.Lock()
	h.connected = false
	h.writeConnected.Store(false)
	h.hasConn = false
	var zero C
	h.connPayload = zero
	if !h.opts.RetainLastMessageOnDisconnect {
		h.clearMessageLocked()
	}
	h.mu.Unlock()

	h.logState("CONNECTED", "DISCONNECTED")
}

func (h *MultiplexedChannelHandler[C, M]) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// ProcessConnection stores the connection payload, recomputes the connection
// flags and notifies every reader and writer.
func (h *MultiplexedChannelHandler[C, M]) ProcessConnection(payload C) {
	h.mu.Lock()
	defer h.unlockAndNotify()

	wasConnected := h.connected
	h.connPayload = payload
	h.hasConn = true
	connected := h.checkConnectedLocked(payload)
	writeConnected := h.checkWriteConnectedLocked(payload)
	h.connected = connected
	h.writeConnected.Store(writeConnected)

	for _, m := range h.monitors {
		c := m.collector
		h.enqueueLocked(func() { c.UpdateConnection(connected) })
	}
	for _, w := range h.writers {
		c := w.collector
		h.enqueueLocked(func() { c.UpdateConnection(writeConnected) })
	}
	for _, m := range h.monitors {
		h.resolveAdapterLocked(m)
	}

	if wasConnected != h.connected {
		if h.connected {
			h.logState("DISCONNECTED", "CONNECTED")
		} else {
			h.logState("CONNECTED", "DISCONNECTED")
		}
	}

	if h.hasMessage {
		if h.connected && h.opts.ReplayLastMessageOnConnect {
			h.fanOutLocked(h.lastMessage)
		}
		if !h.connected && h.opts.ReplayLastMessageOnDisconnect {
			h.fanOutLocked(h.lastMessage)
		}
	}
	if !h.connected && !h.opts.RetainLastMessageOnDisconnect {
		h.clearMessageLocked()
	}
}

// ProcessMessage stores msg as the last message and delivers it to every
// reader. A conversion failure is reported to the affected reader only.
func (h *MultiplexedChannelHandler[C, M]) ProcessMessage(msg M) {
	h.mu.Lock()
	defer h.unlockAndNotify()

	h.lastMessage = msg
	h.hasMessage = true
	h.fanOutLocked(msg)
}

// ReportError delivers err to every reader and writer.
func (h *MultiplexedChannelHandler[C, M]) ReportError(err error) {
	h.mu.Lock()
	defer h.unlockAndNotify()

	var ce *ChannelError
	if !errors.As(err, &ce) {
		err = &ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: err}
	}
	for _, m := range h.monitors {
		c := m.collector
		h.enqueueLocked(func() { c.NotifyError(err) })
	}
	for _, w := range h.writers {
		c := w.collector
		h.enqueueLocked(func() { c.NotifyError(err) })
	}
	h.opts.Metrics.Error(ErrorKind(err))
	h.logError(err.Error())
}

// ReportWriteError delivers err to the writers only. Without writers it
// does nothing.
func (h *MultiplexedChannelHandler[C, M]) ReportWriteError(err error) {
	h.mu.Lock()
	defer h.unlockAndNotify()
	if len(h.writers) == 0 {
		return
	}

	var ce *ChannelError
	if !errors.As(err, &ce) {
		err = &ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: err}
	}
	for _, w := range h.writers {
		c := w.collector
		h.enqueueLocked(func() { c.NotifyError(err) })
	}
	h.opts.Metrics.Error(ErrorKind(err))
	h.logError(err.Error())
}

// LastMessage returns the last message, if one is held.
func (h *MultiplexedChannelHandler[C, M]) LastMessage() (M, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastMessage, h.hasMessage
}

// ConnectionPayload returns the current connection payload, if any.
func (h *MultiplexedChannelHandler[C, M]) ConnectionPayload() (C, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connPayload, h.hasConn
}

func (h *MultiplexedChannelHandler[C, M]) fanOutLocked(msg M) {
	for _, m := range h.monitors {
		h.deliverLocked(m, msg)
	}
}

// deliverLocked queues the conversion of msg for one reader with the
// adapter and payload current at the time of the call.
func (h *MultiplexedChannelHandler[C, M]) deliverLocked(m *monitor[C, M], msg M) {
	adapter := m.adapter
	if adapter == nil {
		return
	}
	c, conn := m.collector, h.connPayload
	h.enqueueLocked(func() { h.deliver(c, adapter, conn, msg) })
}

// deliver converts msg for one reader. Panics and errors stay with that
// reader.
func (h *MultiplexedChannelHandler[C, M]) deliver(c collector.ReadCollector, adapter TypeAdapter[C, M], conn C, msg M) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("type adapter panic: %v", r)
			}
		}()
		_, err = adapter.UpdateCollector(c, conn, msg)
	}()
	if err != nil {
		c.NotifyError(&ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: err})
		h.opts.Metrics.Error(ErrorKind(err))
	}
}

func (h *MultiplexedChannelHandler[C, M]) enqueueLocked(fn func()) {
	h.notices = append(h.notices, fn)
}

// unlockAndNotify releases mu and runs the queued notifications. If another
// call is already running them, including one further up the current
// stack, the queue is left to it.
func (h *MultiplexedChannelHandler[C, M]) unlockAndNotify() {
	if h.notifying {
		h.mu.Unlock()
		return
	}
	h.notifying = true
	for len(h.notices) > 0 {
		batch := h.notices
		h.notices = nil
		h.mu.Unlock()
		for _, fn := range batch {
			h.runNotice(fn)
		}
		h.mu.Lock()
	}
	h.notifying = false
	h.mu.Unlock()
}

func (h *MultiplexedChannelHandler[C, M]) runNotice(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("collector notification panicked", "datasource", h.opts.DataSource, "channel", h.name, "panic", r)
		}
	}()
	fn()
}

func (h *MultiplexedChannelHandler[C, M]) resolveAdapterLocked(m *monitor[C, M]) {
	if !h.hasConn {
		return
	}
	var (
		adapter TypeAdapter[C, M]
		err     error
	)
	if f, ok := h.connector.(TypeAdapterFinder[C, M]); ok {
		adapter, err = f.FindTypeAdapter(m.collector, h.connPayload)
	} else {
		adapter, err = FindTypeAdapter(h.adapters, m.collector, h.connPayload)
	}
	if err != nil {
		m.adapter = nil
		c := m.collector
		err = &ChannelError{DataSource: h.opts.DataSource, Channel: h.name, Err: err}
		h.enqueueLocked(func() { c.NotifyError(err) })
		h.opts.Metrics.Error(ErrorKind(err))
		return
	}
	m.adapter = adapter

	if ps, ok := h.connector.(ParameterSubscriber); ok {
		if param := adapter.SubscriptionParameter(m.collector, h.connPayload); param != nil {
			h.enqueueLocked(func() { ps.SubscribeParameter(param) })
		}
	}
}

func (h *MultiplexedChannelHandler[C, M]) checkConnectedLocked(payload C) bool {
	if cc, ok := h.connector.(ConnectionChecker[C]); ok {
		return cc.CheckConnected(payload)
	}
	return h.usageLocked() > 0
}

func (h *MultiplexedChannelHandler[C, M]) checkWriteConnectedLocked(payload C) bool {
	if wc, ok := h.connector.(WriteConnectionChecker[C]); ok {
		return wc.CheckWriteConnected(payload)
	}
	return false
}

func (h *MultiplexedChannelHandler[C, M]) clearMessageLocked() {
	var zero M
	h.lastMessage = zero
	h.hasMessage = false
}

func (h *MultiplexedChannelHandler[C, M]) usageLocked() int {
	return h.readUsage + h.writeUsage
}

// UsageCounter returns the number of readers plus writers.
func (h *MultiplexedChannelHandler[C, M]) UsageCounter() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usageLocked()
}

// ReadUsageCounter returns the number of readers.
func (h *MultiplexedChannelHandler[C, M]) ReadUsageCounter() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readUsage
}

// WriteUsageCounter returns the number of writers.
func (h *MultiplexedChannelHandler[C, M]) WriteUsageCounter() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeUsage
}

// IsConnected returns the last computed read connection flag.
func (h *MultiplexedChannelHandler[C, M]) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// IsWriteConnected returns the last computed write connection flag.
func (h *MultiplexedChannelHandler[C, M]) IsWriteConnected() bool {
	return h.writeConnected.Load()
}

// Properties returns a diagnostic snapshot.
func (h *MultiplexedChannelHandler[C, M]) Properties() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	props := map[string]any{
		"channel":         h.name,
		"datasource":      h.opts.DataSource,
		"connected":       h.connected,
		"write_connected": h.writeConnected.Load(),
		"read_usage":      h.readUsage,
		"write_usage":     h.writeUsage,
	}
	if h.hasConn {
		props["connection_payload"] = h.connPayload
	}
	if h.hasMessage {
		props["last_message"] = h.lastMessage
	}
	return props
}

func (h *MultiplexedChannelHandler[C, M]) logSubscription(action log.SubscriptionAction, usage int) {
	h.emit(log.Event{
		Category:     log.CategorySubscription,
		Subscription: &log.SubscriptionEvent{Action: action, Usage: usage},
	})
}

func (h *MultiplexedChannelHandler[C, M]) logState(oldState, newState string) {
	h.emit(log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityChannel,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func (h *MultiplexedChannelHandler[C, M]) logError(msg string) {
	h.emit(log.Event{
		Category: log.CategoryError,
		Error:    &log.ErrorEventData{Layer: log.LayerChannel, Message: msg},
	})
}

func (h *MultiplexedChannelHandler[C, M]) emit(e log.Event) {
	if h.opts.EventLog == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Layer = log.LayerChannel
	e.DataSource = h.opts.DataSource
	e.Channel = h.name
	h.opts.EventLog.Log(e)
}

var _ ChannelHandler = (*MultiplexedChannelHandler[any, any])(nil)
