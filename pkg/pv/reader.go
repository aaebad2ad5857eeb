package pv

import (
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// ReaderEvent describes what changed since the previous notification.
type ReaderEvent struct {
	Connection bool
	Value      bool
	Err        error
}

// ReaderListener receives reader notifications. Calls for one reader never
// overlap.
type ReaderListener[T any] func(ev ReaderEvent, r *Reader[T])

// Reader is the handle of a running read expression. It must be closed;
// a Reader that becomes unreachable while open is reported as a leak.
type Reader[T any] struct {
	id       string
	name     string
	listener ReaderListener[T]
	director *director[T]

	mu        sync.Mutex
	value     T
	hasValue  bool
	connected bool
	lastErr   error
	closed    bool
}

// Read builds a reader for expr on ds and starts it.
func Read[T any](ds datasource.DataSource, expr Expression[T], config ReadConfig, listener ReaderListener[T]) (*Reader[T], error) {
	if ds == nil {
		return nil, ErrNilDataSource
	}
	if expr == nil {
		return nil, ErrNilExpression
	}
	config.normalize()

	r := &Reader[T]{
		id:       uuid.NewString(),
		name:     expr.Name(),
		listener: listener,
	}
	d := newDirector(r.id, ds, expr, config)
	d.handle = weakReader(r)
	r.director = d
	runtime.AddCleanup(r, func(d *director[T]) { d.leaked() }, d)

	d.start()
	return r, nil
}

// deliver records the notification and calls the listener. It runs on the
// executor.
func (r *Reader[T]) deliver(n notification[T]) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if n.hasValue {
		r.value, r.hasValue = n.value, true
	}
	r.connected = n.connected
	if n.event.Err != nil {
		r.lastErr = n.event.Err
	}
	r.mu.Unlock()

	if r.listener == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.director.logger.Error("reader listener panicked", "panic", p)
		}
	}()
	r.listener(n.event, r)
}

// ID returns the unique reader identifier.
func (r *Reader[T]) ID() string { return r.id }

// Name returns the expression name.
func (r *Reader[T]) Name() string { return r.name }

// Value returns the last delivered value.
func (r *Reader[T]) Value() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.hasValue
}

// IsConnected reports the last delivered connection state.
func (r *Reader[T]) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// LastError returns the last delivered error.
func (r *Reader[T]) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Pause suspends notifications. Updates keep accumulating.
func (r *Reader[T]) Pause() { r.director.decoupler.Pause() }

// Resume restarts notifications.
func (r *Reader[T]) Resume() { r.director.decoupler.Resume() }

// IsPaused reports whether the reader is paused.
func (r *Reader[T]) IsPaused() bool { return r.director.decoupler.IsPaused() }

// Close stops the reader and releases its subscriptions. It is safe to call
// more than once and from the listener.
func (r *Reader[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.director.close(true)
}

// IsClosed reports whether Close was called.
func (r *Reader[T]) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
