package pv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

type writerRecorder struct {
	mu     sync.Mutex
	events []WriterEvent
}

func (r *writerRecorder) listen(ev WriterEvent, _ *Writer[float64]) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *writerRecorder) count(match func(WriterEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func TestWriteAndWait(t *testing.T) {
	src := newSource(t)
	rec := &writerRecorder{}

	w, err := Write[float64](src, "rw1", DefaultWriteConfig(), rec.listen)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, 2.5))

	assert.True(t, w.IsWriteConnected())
	assert.Equal(t, []any{2.5}, src.WritableTestChannel("rw1").Writes())
	assert.Equal(t, "rw1", w.Channel())
	require.Eventually(t, func() bool {
		return rec.count(func(ev WriterEvent) bool { return ev.Succeeded }) == 1
	}, waitFor, tick)
}

func TestWriteFailureIsReported(t *testing.T) {
	src := newSource(t)
	rec := &writerRecorder{}
	w, err := Write[float64](src, "rw2", DefaultWriteConfig(), rec.listen)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, 1))

	rejected := errors.New("rejected")
	src.WritableTestChannel("rw2").FailWrites(rejected)
	assert.ErrorIs(t, w.WriteAndWait(ctx, 2), rejected)

	require.NoError(t, w.Write(3))
	require.Eventually(t, func() bool {
		return rec.count(func(ev WriterEvent) bool { return ev.Failed && errors.Is(ev.Err, rejected) }) == 2
	}, waitFor, tick)
	assert.Equal(t, []any{1.0}, src.WritableTestChannel("rw2").Writes())
}

func TestWriteToReadOnlyChannel(t *testing.T) {
	src := newSource(t)
	w, err := Write[float64](src, "ro", DefaultWriteConfig(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err = w.WriteAndWait(ctx, 1)
	assert.ErrorIs(t, err, datasource.ErrReadOnly)
	assert.ErrorIs(t, w.LastError(), datasource.ErrReadOnly)
}

func TestWriteAfterClose(t *testing.T) {
	src := newSource(t)
	w, err := Write[float64](src, "rw3", DefaultWriteConfig(), nil)
	require.NoError(t, err)

	w.Close()
	w.Close()
	assert.True(t, w.IsClosed())
	assert.ErrorIs(t, w.Write(1), ErrClosed)
	assert.ErrorIs(t, w.WriteAndWait(context.Background(), 1), ErrClosed)

	src.Flush()
	assert.Equal(t, 0, src.ActiveWrites())
}

func TestWriteAndWaitHonorsContext(t *testing.T) {
	src := newSource(t)
	w, err := Write[float64](src, "missing-channel", DefaultWriteConfig(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = w.WriteAndWait(ctx, 1)
	require.Error(t, err)
}

func TestWriterEventsAreSerial(t *testing.T) {
	src := newSource(t)
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		calls   int
	)
	w, err := Write[float64](src, "rw4", DefaultWriteConfig(), func(WriterEvent, *Writer[float64]) {
		mu.Lock()
		running++
		maxSeen = max(maxSeen, running)
		calls++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, 0))
	for i := 1; i <= 10; i++ {
		require.NoError(t, w.Write(float64(i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 11 && running == 0
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, 1, maxSeen)
	mu.Unlock()
}

func TestWriteFromInlineConnectionListener(t *testing.T) {
	src := newSource(t)

	var (
		once     sync.Once
		writeErr = make(chan error, 1)
	)
	cfg := DefaultWriteConfig()
	cfg.Executor = InlineExecutor{}
	w, err := Write[float64](src, "rw-inline", cfg, func(ev WriterEvent, w *Writer[float64]) {
		if ev.Connection && w.IsWriteConnected() {
			once.Do(func() { writeErr <- w.Write(1) })
		}
	})
	require.NoError(t, err)
	defer w.Close()

	select {
	case err := <-writeErr:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("write from the connection listener never returned")
	}
	require.Eventually(t, func() bool {
		ch := src.WritableTestChannel("rw-inline")
		return ch != nil && len(ch.Writes()) == 1
	}, waitFor, tick)

	// The data source worker must still serve other subscriptions.
	other, err := Write[float64](src, "rw-other", DefaultWriteConfig(), nil)
	require.NoError(t, err)
	defer other.Close()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, other.WriteAndWait(ctx, 2))
}
