package collector

import (
	"reflect"
	"sync"
)

// ReadCollector is the producer side of a read mailbox. Data sources call the
// Update/Notify methods; the rate decoupler installs the listener.
type ReadCollector interface {
	// ValueType returns the declared value type.
	ValueType() reflect.Type

	// UpdateValue stores a new value. It fails with ErrTypeMismatch if v is
	// not assignable to the declared type.
	UpdateValue(v any) error

	// UpdateValueAndConnection stores a value and connection flag together and
	// emits a single event.
	UpdateValueAndConnection(v any, connected bool) error

	// UpdateConnection stores the connection flag. No event is emitted when
	// the flag does not change.
	UpdateConnection(connected bool)

	// NotifyError reports an error on the read path.
	NotifyError(err error)

	// Connected returns the last connection flag.
	Connected() bool

	// SetUpdateListener installs the listener. Nil drops events.
	SetUpdateListener(l Listener)
}

// readState holds what every read collector shares.
type readState struct {
	mu        sync.Mutex
	connected bool
	lastErr   error
	listener  Listener
}

func (s *readState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *readState) SetUpdateListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// LastError returns the last error reported through NotifyError.
func (s *readState) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *readState) UpdateConnection(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	l := s.listener
	s.mu.Unlock()

	emit(l, Event{Type: EventReadConnection})
}

func (s *readState) NotifyError(err error) {
	s.mu.Lock()
	s.lastErr = err
	l := s.listener
	s.mu.Unlock()

	emit(l, Event{Type: EventReadError, Err: err})
}

func emit(l Listener, e Event) {
	if l != nil {
		l(e)
	}
}

// LatestValue keeps only the newest value.
type LatestValue[T any] struct {
	readState
	value    T
	hasValue bool
}

// NewLatestValue creates an empty LatestValue collector.
func NewLatestValue[T any]() *LatestValue[T] {
	return &LatestValue[T]{}
}

// ValueType returns T.
func (c *LatestValue[T]) ValueType() reflect.Type {
	return reflect.TypeFor[T]()
}

// UpdateValue stores v as the newest value.
func (c *LatestValue[T]) UpdateValue(v any) error {
	tv, err := convert[T](v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.value = tv
	c.hasValue = true
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: EventValue})
	return nil
}

// UpdateValueAndConnection stores v and the connection flag.
func (c *LatestValue[T]) UpdateValueAndConnection(v any, connected bool) error {
	tv, err := convert[T](v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.value = tv
	c.hasValue = true
	typ := EventValue
	if c.connected != connected {
		c.connected = connected
		typ |= EventReadConnection
	}
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: typ})
	return nil
}

// Get returns the newest value and whether one was ever stored.
func (c *LatestValue[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.hasValue
}

// Queue keeps values in arrival order, up to a maximum size.
type Queue[T any] struct {
	readState
	max    int
	values []T
}

// NewQueue creates a queue holding at most max values. When full, the
// oldest value is dropped. A max below 1 is treated as 1.
func NewQueue[T any](max int) *Queue[T] {
	if max < 1 {
		max = 1
	}
	return &Queue[T]{max: max}
}

// ValueType returns T.
func (c *Queue[T]) ValueType() reflect.Type {
	return reflect.TypeFor[T]()
}

// UpdateValue appends v.
func (c *Queue[T]) UpdateValue(v any) error {
	tv, err := convert[T](v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.push(tv)
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: EventValue})
	return nil
}

// UpdateValueAndConnection appends v and stores the connection flag.
func (c *Queue[T]) UpdateValueAndConnection(v any, connected bool) error {
	tv, err := convert[T](v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.push(tv)
	typ := EventValue
	if c.connected != connected {
		c.connected = connected
		typ |= EventReadConnection
	}
	l := c.listener
	c.mu.Unlock()

	emit(l, Event{Type: typ})
	return nil
}

func (c *Queue[T]) push(v T) {
	if len(c.values) == c.max {
		copy(c.values, c.values[1:])
		c.values = c.values[:c.max-1]
	}
	c.values = append(c.values, v)
}

// Drain returns the queued values and empties the queue.
func (c *Queue[T]) Drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := c.values
	c.values = nil
	return values
}

// Len returns the number of queued values.
func (c *Queue[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

var (
	_ ReadCollector = (*LatestValue[int])(nil)
	_ ReadCollector = (*Queue[int])(nil)
)
