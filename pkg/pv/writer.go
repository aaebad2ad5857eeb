package pv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/log"
)

// attachPoll bounds the wait for an attachment that produced no event.
const attachPoll = 20 * time.Millisecond

// WriterEvent describes one change on the write path.
type WriterEvent struct {
	Connection bool
	Succeeded  bool
	Failed     bool
	Err        error
}

// WriterListener receives writer notifications. Calls for one writer never
// overlap and arrive in order.
type WriterListener[T any] func(ev WriterEvent, w *Writer[T])

// Writer is the handle of a write subscription to one channel.
type Writer[T any] struct {
	id        string
	channel   string
	ds        datasource.DataSource
	collector *collector.Write[T]
	executor  Executor
	listener  WriterListener[T]
	logger    *slog.Logger
	events    log.Logger

	mu       sync.Mutex
	pending  []WriterEvent
	draining bool
	closed   bool
	changed  chan struct{}
}

// Write opens a write subscription to channel on ds.
func Write[T any](ds datasource.DataSource, channel string, config WriteConfig, listener WriterListener[T]) (*Writer[T], error) {
	if ds == nil {
		return nil, ErrNilDataSource
	}
	config.normalize()

	w := &Writer[T]{
		id:        uuid.NewString(),
		channel:   channel,
		ds:        ds,
		collector: collector.NewWrite[T](),
		executor:  config.Executor,
		listener:  listener,
		events:    config.EventLog,
		changed:   make(chan struct{}),
	}
	w.logger = config.Logger.With("writer", w.id, "channel", channel)
	w.collector.SetUpdateListener(w.onEvent)
	ds.StartWrite(datasource.WriteSubscription{Channel: channel, Collector: w.collector})
	w.logState("UNCONNECTED", "RUNNING")
	return w, nil
}

// ID returns the unique writer identifier.
func (w *Writer[T]) ID() string { return w.id }

// Channel returns the channel name.
func (w *Writer[T]) Channel() string { return w.channel }

// IsWriteConnected reports whether the channel currently accepts writes.
func (w *Writer[T]) IsWriteConnected() bool { return w.collector.Connected() }

// LastError returns the last write-path error reported by the channel.
func (w *Writer[T]) LastError() error { return w.collector.LastError() }

// Write sends v without waiting. The outcome arrives at the listener.
func (w *Writer[T]) Write(v T) error {
	if w.IsClosed() {
		return ErrClosed
	}
	w.collector.Set(v)
	return w.collector.SendWriteRequest()
}

// WriteAndWait sends v and blocks until the channel reports the outcome or
// ctx is done. If the writer is not attached yet it waits for attachment.
func (w *Writer[T]) WriteAndWait(ctx context.Context, v T) error {
	w.collector.Set(v)
	result := make(chan error, 1)
	for {
		if w.IsClosed() {
			return ErrClosed
		}
		w.mu.Lock()
		changed := w.changed
		w.mu.Unlock()

		err := w.collector.Send(func(err error) { result <- err })
		switch {
		case err == nil:
			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		case !errors.Is(err, collector.ErrNotWritable):
			return err
		}
		if last := w.collector.LastError(); last != nil {
			return last
		}

		select {
		case <-changed:
		case <-time.After(attachPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// onEvent is the collector listener.
func (w *Writer[T]) onEvent(ev collector.Event) {
	var we WriterEvent
	switch {
	case ev.Has(collector.EventWriteSucceeded):
		we.Succeeded = true
	case ev.Has(collector.EventWriteFailed):
		we.Failed = true
		we.Err = ev.Err
	case ev.Has(collector.EventWriteConnection):
		we.Connection = true
	case ev.Has(collector.EventWriteError):
		we.Err = ev.Err
		w.logger.Debug("write error", "error", ev.Err)
	default:
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	close(w.changed)
	w.changed = make(chan struct{})
	w.pending = append(w.pending, we)
	if w.draining {
		w.mu.Unlock()
		return
	}
	w.draining = true
	w.mu.Unlock()

	w.executor.Execute(w.drain)
}

// drain delivers pending events in order until none are left.
func (w *Writer[T]) drain() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 || w.closed {
			w.pending = nil
			w.draining = false
			w.mu.Unlock()
			return
		}
		ev := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.deliver(ev)
	}
}

func (w *Writer[T]) deliver(ev WriterEvent) {
	if w.listener == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("writer listener panicked", "panic", p)
		}
	}()
	w.listener(ev, w)
}

// Close releases the write subscription. It is safe to call more than once.
func (w *Writer[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.changed)
	w.mu.Unlock()

	w.ds.StopWrite(datasource.WriteSubscription{Channel: w.channel, Collector: w.collector})
	w.logState("RUNNING", "CLOSED")
}

// IsClosed reports whether Close was called.
func (w *Writer[T]) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Writer[T]) logState(from, to string) {
	w.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: w.id,
		Layer:        log.LayerPV,
		Category:     log.CategoryState,
		Channel:      w.channel,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityWriter,
			OldState: from,
			NewState: to,
		},
	})
}
