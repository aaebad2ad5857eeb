package collector

import (
	"sync"
)

// WriteCollector is the channel side of a write mailbox. The channel handler
// installs the write notification and reports the write connection; the
// writer handle queues values and sends requests.
type WriteCollector interface {
	// QueueValue stores the value to write next.
	QueueValue(v any) error

	// SetWriteNotification installs the consumer of write requests. Nil
	// marks the collector as not writable.
	SetWriteNotification(fn func(*WriteRequest))

	// UpdateConnection stores the write connection flag.
	UpdateConnection(connected bool)

	// Connected returns the write connection flag.
	Connected() bool

	// NotifyError reports an error on the write path.
	NotifyError(err error)

	// SetUpdateListener installs the listener. Nil drops events.
	SetUpdateListener(l Listener)

	// SendWriteRequest hands the queued value to the write notification.
	SendWriteRequest() error
}

// WriteRequest is one value on its way to a channel. Exactly one of
// Succeeded or Failed takes effect.
type WriteRequest struct {
	Value any

	once sync.Once
	done func(error)
}

// NewWriteRequest creates a request that calls done on completion.
func NewWriteRequest(value any, done func(error)) *WriteRequest {
	return &WriteRequest{Value: value, done: done}
}

// Succeeded completes the request.
func (r *WriteRequest) Succeeded() {
	r.complete(nil)
}

// Failed completes the request with err.
func (r *WriteRequest) Failed(err error) {
	if err == nil {
		err = ErrNotWritable
	}
	r.complete(err)
}

func (r *WriteRequest) complete(err error) {
	r.once.Do(func() {
		if r.done != nil {
			r.done(err)
		}
	})
}

// Write holds the last queued value for one channel.
type Write[T any] struct {
	mu        sync.Mutex
	value     T
	hasValue  bool
	connected bool
	lastErr   error
	notify    func(*WriteRequest)
	listener  Listener
}

// NewWrite creates an empty write collector.
func NewWrite[T any]() *Write[T] {
	return &Write[T]{}
}

// QueueValue stores v. It fails with ErrTypeMismatch if v is not a T.
func (c *Write[T]) QueueValue(v any) error {
	tv, err := convert[T](v)
	if err != nil {
		return err
	}
	c.Set(tv)
	return nil
}

// Set stores v.
func (c *Write[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.hasValue = true
	c.mu.Unlock()
}

// SetWriteNotification installs the write request consumer.
func (c *Write[T]) SetWriteNotification(fn func(*WriteRequest)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// UpdateConnection stores the write connection flag.
func (c *Write[T]) UpdateConnection(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: EventWriteConnection})
}

// Connected returns the write connection flag.
func (c *Write[T]) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// NotifyError reports err as a write error.
func (c *Write[T]) NotifyError(err error) {
	c.mu.Lock()
	c.lastErr = err
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: EventWriteError, Err: err})
}

// LastError returns the last error reported through NotifyError.
func (c *Write[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetUpdateListener installs the listener.
func (c *Write[T]) SetUpdateListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// SendWriteRequest sends the queued value. Completion is reported as
// EventWriteSucceeded or EventWriteFailed.
func (c *Write[T]) SendWriteRequest() error {
	return c.Send(nil)
}

// Send sends the queued value and additionally calls done with the outcome.
func (c *Write[T]) Send(done func(error)) error {
	c.mu.Lock()
	notify := c.notify
	if notify == nil {
		c.mu.Unlock()
		return ErrNotWritable
	}
	if !c.hasValue {
		c.mu.Unlock()
		return ErrNoValue
	}
	value := c.value
	c.mu.Unlock()

	notify(NewWriteRequest(value, func(err error) {
		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()

		if err != nil {
			emit(l, Event{Type: EventWriteFailed, Err: err})
		} else {
			emit(l, Event{Type: EventWriteSucceeded})
		}
		if done != nil {
			done(err)
		}
	}))
	return nil
}

var _ WriteCollector = (*Write[int])(nil)
