package collector

import (
	"errors"
	"strings"
)

// EventType is a bit mask of the kinds of change carried by an Event.
type EventType uint16

const (
	// EventReadConnection signals a change of the read connection flag.
	EventReadConnection EventType = 1 << iota
	// EventValue signals a new value.
	EventValue
	// EventReadError signals an error on the read path.
	EventReadError
	// EventWriteConnection signals a change of the write connection flag.
	EventWriteConnection
	// EventWriteSucceeded signals a completed write.
	EventWriteSucceeded
	// EventWriteFailed signals a write that the backend rejected.
	EventWriteFailed
	// EventWriteError signals an error on the write path.
	EventWriteError
)

var eventTypeNames = []struct {
	t    EventType
	name string
}{
	{EventReadConnection, "READ_CONNECTION"},
	{EventValue, "VALUE"},
	{EventReadError, "READ_ERROR"},
	{EventWriteConnection, "WRITE_CONNECTION"},
	{EventWriteSucceeded, "WRITE_SUCCEEDED"},
	{EventWriteFailed, "WRITE_FAILED"},
	{EventWriteError, "WRITE_ERROR"},
}

// String lists the set bits separated by '|'.
func (t EventType) String() string {
	if t == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range eventTypeNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Event is a source-rate notification emitted by a collector.
type Event struct {
	Type EventType
	Err  error
}

// Has returns true if any bit of t is set on the event.
func (e Event) Has(t EventType) bool {
	return e.Type&t != 0
}

// Merge combines two events. Types are OR'ed; the error of other wins when
// set.
func (e Event) Merge(other Event) Event {
	merged := Event{Type: e.Type | other.Type, Err: e.Err}
	if other.Err != nil {
		merged.Err = other.Err
	}
	return merged
}

// Listener receives events from a collector.
type Listener func(Event)

// Collector errors.
var (
	// ErrTypeMismatch is returned when a value is not assignable to the
	// collector's declared type.
	ErrTypeMismatch = errors.New("value type mismatch")

	// ErrNotWritable is returned when a write is requested on a collector that
	// no channel accepts writes for.
	ErrNotWritable = errors.New("channel not writable")

	// ErrNoValue is returned when a write is requested before a value was
	// queued.
	ErrNoValue = errors.New("no value queued")
)
