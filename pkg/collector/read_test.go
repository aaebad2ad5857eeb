package collector

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestLatestValueUpdate(t *testing.T) {
	c := NewLatestValue[float64]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	_, ok := c.Get()
	assert.False(t, ok)

	require.NoError(t, c.UpdateValue(1.5))
	require.NoError(t, c.UpdateValue(2.5))

	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)
	assert.Equal(t, reflect.TypeFor[float64](), c.ValueType())
	assert.Len(t, rec.all(), 2)
}

func TestLatestValueTypeMismatch(t *testing.T) {
	c := NewLatestValue[float64]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	err := c.UpdateValue("text")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Empty(t, rec.all())

	_, ok := c.Get()
	assert.False(t, ok)
}

func TestLatestValueAcceptsNilForInterface(t *testing.T) {
	c := NewLatestValue[any]()
	require.NoError(t, c.UpdateValue(nil))
	require.NoError(t, c.UpdateValue("x"))
	v, _ := c.Get()
	assert.Equal(t, "x", v)
}

func TestUpdateConnectionOnlyNotifiesOnChange(t *testing.T) {
	c := NewLatestValue[int]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	c.UpdateConnection(false)
	c.UpdateConnection(true)
	c.UpdateConnection(true)
	c.UpdateConnection(false)

	events := rec.all()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, EventReadConnection, e.Type)
	}
	assert.False(t, c.Connected())
}

func TestUpdateValueAndConnection(t *testing.T) {
	c := NewLatestValue[int]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	require.NoError(t, c.UpdateValueAndConnection(1, true))
	require.NoError(t, c.UpdateValueAndConnection(2, true))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventValue|EventReadConnection, events[0].Type)
	assert.Equal(t, EventValue, events[1].Type)
}

func TestNotifyError(t *testing.T) {
	c := NewLatestValue[int]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	boom := errors.New("boom")
	c.NotifyError(boom)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventReadError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.ErrorIs(t, c.LastError(), boom)
}

func TestNilListenerDropsEvents(t *testing.T) {
	c := NewLatestValue[int]()
	require.NoError(t, c.UpdateValue(3))
	c.UpdateConnection(true)
	c.NotifyError(errors.New("ignored"))

	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestListenerMayReenterCollector(t *testing.T) {
	c := NewLatestValue[int]()
	var seen int
	c.SetUpdateListener(func(Event) {
		// Reading under the listener must not deadlock.
		seen, _ = c.Get()
	})
	require.NoError(t, c.UpdateValue(7))
	assert.Equal(t, 7, seen)
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.UpdateValue(i))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []int{3, 4, 5}, q.Drain())
	assert.Empty(t, q.Drain())
}

func TestQueueMinimumSize(t *testing.T) {
	q := NewQueue[string](0)
	require.NoError(t, q.UpdateValue("a"))
	require.NoError(t, q.UpdateValueAndConnection("b", true))
	assert.Equal(t, []string{"b"}, q.Drain())
	assert.True(t, q.Connected())
}

func TestEventHelpers(t *testing.T) {
	e := Event{Type: EventValue}
	merged := e.Merge(Event{Type: EventReadError, Err: errors.New("x")})

	assert.True(t, merged.Has(EventValue))
	assert.True(t, merged.Has(EventReadError))
	assert.False(t, merged.Has(EventReadConnection))
	assert.EqualError(t, merged.Err, "x")

	assert.Equal(t, "NONE", EventType(0).String())
	assert.Equal(t, "VALUE|READ_ERROR", merged.Type.String())
}

func TestAccepts(t *testing.T) {
	assert.True(t, Accepts(reflect.TypeFor[any](), reflect.TypeFor[int]()))
	assert.True(t, Accepts(reflect.TypeFor[float64](), reflect.TypeFor[float64]()))
	assert.False(t, Accepts(reflect.TypeFor[float64](), reflect.TypeFor[string]()))
	assert.False(t, Accepts(nil, reflect.TypeFor[string]()))
}
