package collector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSendWithoutConsumer(t *testing.T) {
	c := NewWrite[int]()
	require.NoError(t, c.QueueValue(1))
	assert.ErrorIs(t, c.SendWriteRequest(), ErrNotWritable)
}

func TestWriteSendWithoutValue(t *testing.T) {
	c := NewWrite[int]()
	c.SetWriteNotification(func(*WriteRequest) {})
	assert.ErrorIs(t, c.SendWriteRequest(), ErrNoValue)
}

func TestWriteQueueValueTypeMismatch(t *testing.T) {
	c := NewWrite[int]()
	assert.ErrorIs(t, c.QueueValue("nope"), ErrTypeMismatch)
}

func TestWriteSucceeded(t *testing.T) {
	c := NewWrite[string]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	var got any
	c.SetWriteNotification(func(req *WriteRequest) {
		got = req.Value
		req.Succeeded()
		req.Failed(errors.New("ignored after success"))
	})

	c.Set("hello")
	var outcome error = errors.New("unset")
	require.NoError(t, c.Send(func(err error) { outcome = err }))

	assert.Equal(t, "hello", got)
	assert.NoError(t, outcome)
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventWriteSucceeded, events[0].Type)
}

func TestWriteFailed(t *testing.T) {
	c := NewWrite[int]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	rejected := errors.New("rejected")
	c.SetWriteNotification(func(req *WriteRequest) { req.Failed(rejected) })
	c.Set(4)
	require.NoError(t, c.SendWriteRequest())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventWriteFailed, events[0].Type)
	assert.ErrorIs(t, events[0].Err, rejected)
}

func TestWriteConnectionAndError(t *testing.T) {
	c := NewWrite[int]()
	rec := &recorder{}
	c.SetUpdateListener(rec.listen)

	c.UpdateConnection(true)
	c.UpdateConnection(true)
	c.NotifyError(errors.New("read-only"))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventWriteConnection, events[0].Type)
	assert.Equal(t, EventWriteError, events[1].Type)
	assert.True(t, c.Connected())
	assert.EqualError(t, c.LastError(), "read-only")
}

func TestWriteRequestFailedNilError(t *testing.T) {
	var got error
	req := NewWriteRequest(1, func(err error) { got = err })
	req.Failed(nil)
	assert.ErrorIs(t, got, ErrNotWritable)
}
