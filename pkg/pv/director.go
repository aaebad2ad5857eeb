package pv

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
	"weak"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/chanmux/chanmux-go/pkg/scan"
)

type state uint8

const (
	stateUnconnected state = iota
	stateRunning
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnconnected:
		return "UNCONNECTED"
	case stateRunning:
		return "RUNNING"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// notification is what the director hands to the executor.
type notification[T any] struct {
	event     ReaderEvent
	value     T
	hasValue  bool
	connected bool
}

// director orchestrates one Reader. It references the Reader only weakly.
type director[T any] struct {
	id      string
	expr    Expression[T]
	ds      datasource.DataSource
	config  ReadConfig
	logger  *slog.Logger
	events  log.Logger
	metrics *metrics.Collector
	stack   []byte

	decoupler scan.Decoupler
	handle    weak.Pointer[Reader[T]]

	mu            sync.Mutex
	state         state
	closedByUser  bool
	leakReported  bool
	expressions   map[ReadExpression]struct{}
	collectors    map[collector.ReadCollector]struct{}
	inFlight      bool
	lastConnected bool
	delivered     bool
	lastErr       error // last channel error reported
	lastEvalErr   error
	timeout       *time.Timer
}

func newDirector[T any](id string, ds datasource.DataSource, expr Expression[T], config ReadConfig) *director[T] {
	d := &director[T]{
		id:          id,
		expr:        expr,
		ds:          ds,
		config:      config,
		logger:      config.Logger.With("reader", id, "expression", expr.Name()),
		events:      config.EventLog,
		metrics:     config.Metrics,
		stack:       debug.Stack(),
		expressions: make(map[ReadExpression]struct{}),
		collectors:  make(map[collector.ReadCollector]struct{}),
	}
	d.decoupler = scan.New(config.Scan, scan.Config{
		MaxRate: config.MaxRate,
		Logger:  config.Logger,
	}, d.notifyPv)
	return d
}

// start moves to running, connects the expression and schedules the
// timeout.
func (d *director[T]) start() {
	d.mu.Lock()
	if d.state != stateUnconnected {
		d.mu.Unlock()
		return
	}
	d.state = stateRunning
	if d.config.Timeout > 0 {
		d.timeout = time.AfterFunc(d.config.Timeout, d.fireTimeout)
	}
	d.mu.Unlock()

	d.logState(stateUnconnected, stateRunning)
	d.decoupler.Start()
	d.ConnectReadExpression(d.expr)
}

// fireTimeout posts a TimeoutError unless a connection was made.
func (d *director[T]) fireTimeout() {
	d.mu.Lock()
	if d.state != stateRunning || d.aggregateLocked() {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.logger.Debug("read timeout", "after", d.config.Timeout)
	d.decoupler.UpdateListener()(collector.Event{
		Type: collector.EventReadError,
		Err:  &TimeoutError{Message: d.config.TimeoutMessage, After: d.config.Timeout},
	})
}

// RegisterCollector implements Director.
func (d *director[T]) RegisterCollector(c collector.ReadCollector) {
	d.mu.Lock()
	if d.state != stateRunning {
		d.mu.Unlock()
		return
	}
	d.collectors[c] = struct{}{}
	d.mu.Unlock()

	c.SetUpdateListener(d.decoupler.UpdateListener())
	d.decoupler.UpdateListener()(collector.Event{Type: collector.EventReadConnection})
}

// DeregisterCollector implements Director.
func (d *director[T]) DeregisterCollector(c collector.ReadCollector) {
	d.mu.Lock()
	_, ok := d.collectors[c]
	delete(d.collectors, c)
	running := d.state == stateRunning
	d.mu.Unlock()

	if !ok {
		return
	}
	c.SetUpdateListener(nil)
	if running {
		d.decoupler.UpdateListener()(collector.Event{Type: collector.EventReadConnection})
	}
}

// ConnectReadExpression implements Director.
func (d *director[T]) ConnectReadExpression(e ReadExpression) {
	d.mu.Lock()
	if d.state != stateRunning {
		d.mu.Unlock()
		return
	}
	if _, ok := d.expressions[e]; ok {
		d.mu.Unlock()
		return
	}
	d.expressions[e] = struct{}{}
	d.mu.Unlock()

	e.StartRead(d)
}

// DisconnectReadExpression implements Director.
func (d *director[T]) DisconnectReadExpression(e ReadExpression) {
	d.mu.Lock()
	if _, ok := d.expressions[e]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.expressions, e)
	d.mu.Unlock()

	e.StopRead(d)
}

// StartReadSubscription implements Director.
func (d *director[T]) StartReadSubscription(sub datasource.ReadSubscription) {
	d.ds.StartRead(sub)
}

// StopReadSubscription implements Director.
func (d *director[T]) StopReadSubscription(sub datasource.ReadSubscription) {
	d.ds.StopRead(sub)
}

// aggregateLocked is the AND of every registered collector's connection.
// No collectors means not connected.
func (d *director[T]) aggregateLocked() bool {
	if len(d.collectors) == 0 {
		return false
	}
	for c := range d.collectors {
		if !c.Connected() {
			return false
		}
	}
	return true
}

// isActiveLocked reports whether notifications should continue. A handle
// that was collected without Close is a leak.
func (d *director[T]) isActiveLocked() bool {
	if d.closedByUser || d.state != stateRunning {
		return false
	}
	return d.handle.Value() != nil
}

// notifyPv is the desired-rate listener. It evaluates the expression,
// computes the connection and dispatches one notification.
func (d *director[T]) notifyPv(ev scan.DesiredRateEvent) {
	d.mu.Lock()
	if d.state != stateRunning {
		d.mu.Unlock()
		return
	}
	if !d.isActiveLocked() {
		d.mu.Unlock()
		d.leaked()
		return
	}
	if d.inFlight {
		d.mu.Unlock()
		d.logger.Error("fatal: notification requested while previous one is in flight", "types", ev.Types.String())
		d.metrics.Rejected()
		return
	}

	var n notification[T]
	n.connected = d.lastConnected
	if ev.Has(collector.EventReadConnection) {
		n.connected = d.aggregateLocked()
		if n.connected != d.lastConnected || !d.delivered {
			n.event.Connection = true
		}
	}

	chanErr := lastReportable(ev.Errors, n.connected)
	if chanErr != nil {
		if sameError(chanErr, d.lastErr) {
			chanErr = nil
		} else {
			d.lastErr = chanErr
			if isTimeout(chanErr) {
				d.metrics.Error(metrics.KindTimeout)
			}
		}
	}

	var evalErr error
	if ev.Has(collector.EventValue) {
		v, ok, err := d.evaluate()
		switch {
		case err != nil:
			d.metrics.Error(metrics.KindEvaluation)
			if !sameError(err, d.lastEvalErr) {
				d.lastEvalErr = err
				evalErr = err
			}
		case ok:
			n.value, n.hasValue = v, true
			n.event.Value = true
			if d.lastErr != nil && !isTimeout(d.lastErr) {
				d.lastErr = nil
			}
		}
	}

	switch {
	case chanErr != nil && evalErr != nil:
		n.event.Err = errors.Join(chanErr, evalErr)
	case chanErr != nil:
		n.event.Err = chanErr
	case evalErr != nil:
		n.event.Err = evalErr
	}

	if !n.event.Connection && !n.event.Value && n.event.Err == nil {
		d.mu.Unlock()
		d.decoupler.ReadyForNextEvent()
		return
	}

	d.inFlight = true
	d.lastConnected = n.connected
	d.delivered = true
	d.mu.Unlock()

	started := time.Now()
	d.config.Executor.Execute(func() {
		defer d.completed(started)
		if h := d.handle.Value(); h != nil {
			h.deliver(n)
		}
	})
}

// evaluate reads the expression, turning a panic into an error.
func (d *director[T]) evaluate() (v T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panic: %v", r)
		}
	}()
	return d.expr.ReadValue()
}

// completed clears the in-flight flag and acknowledges the decoupler.
func (d *director[T]) completed(started time.Time) {
	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()

	d.metrics.Delivered(time.Since(started))
	d.decoupler.ReadyForNextEvent()
}

// leaked closes a director whose handle was collected without Close.
func (d *director[T]) leaked() {
	d.mu.Lock()
	leak := d.state == stateRunning && !d.closedByUser && !d.leakReported && d.handle.Value() == nil
	if leak {
		d.leakReported = true
	}
	d.mu.Unlock()
	if !leak {
		return
	}

	d.logger.Error("reader was not closed before it became unreachable", "stack", string(d.stack))
	d.metrics.Leaked()
	d.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.id,
		Layer:        log.LayerPV,
		Category:     log.CategoryError,
		Channel:      d.expr.Name(),
		Error:        &log.ErrorEventData{Layer: log.LayerPV, Message: "leaked reader", Context: string(d.stack)},
	})
	d.close(false)
}

// close disconnects every expression and stops the decoupler.
func (d *director[T]) close(byUser bool) {
	d.mu.Lock()
	if d.state == stateClosing || d.state == stateClosed {
		d.mu.Unlock()
		return
	}
	prev := d.state
	d.state = stateClosing
	d.closedByUser = byUser
	if d.timeout != nil {
		d.timeout.Stop()
	}
	d.mu.Unlock()
	d.logState(prev, stateClosing)

	d.decoupler.Stop()
	d.disconnectAll()

	d.mu.Lock()
	d.state = stateClosed
	d.mu.Unlock()
	d.logState(stateClosing, stateClosed)
}

// disconnectAll disconnects the root expression, which cascades to its
// children, then anything left over.
func (d *director[T]) disconnectAll() {
	d.DisconnectReadExpression(d.expr)
	for {
		d.mu.Lock()
		var next ReadExpression
		for e := range d.expressions {
			next = e
			break
		}
		d.mu.Unlock()
		if next == nil {
			break
		}
		d.DisconnectReadExpression(next)
	}

	d.mu.Lock()
	remaining := d.collectors
	d.collectors = make(map[collector.ReadCollector]struct{})
	d.mu.Unlock()
	for c := range remaining {
		c.SetUpdateListener(nil)
	}
}

func (d *director[T]) logState(from, to state) {
	d.logger.Debug("reader state", "from", from.String(), "to", to.String())
	d.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.id,
		Layer:        log.LayerPV,
		Category:     log.CategoryState,
		Channel:      d.expr.Name(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityReader,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

func weakReader[T any](r *Reader[T]) weak.Pointer[Reader[T]] {
	return weak.Make(r)
}

// lastReportable returns the newest error of a batch. Timeouts no longer
// apply once connected and are skipped.
func lastReportable(errs []error, connected bool) error {
	for i := len(errs) - 1; i >= 0; i-- {
		if errs[i] == nil || (connected && isTimeout(errs[i])) {
			continue
		}
		return errs[i]
	}
	return nil
}

func isTimeout(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

var _ Director = (*director[int])(nil)
