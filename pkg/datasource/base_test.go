package datasource_test

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanmux/chanmux-go/internal/testsource"
	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
)

func newSource(t *testing.T, name string, opts ...testsource.ChannelOption) *testsource.Source {
	t.Helper()
	src := testsource.New(name, opts...)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestBaseStartReadIsAsynchronous(t *testing.T) {
	src := newSource(t, "test")

	r, _ := newReader[float64]()
	src.StartRead(datasource.ReadSubscription{Channel: "temp", Collector: r})
	src.Flush()

	ch := src.TestChannel("temp")
	require.NotNil(t, ch)
	assert.Equal(t, 1, ch.Connects())
	assert.True(t, r.Connected())

	ch.ProcessMessage(20.0)
	v, _ := r.Get()
	assert.Equal(t, 20.0, v)
	assert.Equal(t, 1, src.ActiveReads())
}

func TestBaseChannelNotFoundRoutedToCollector(t *testing.T) {
	src := newSource(t, "test")

	r, ev := newReader[any]()
	src.StartRead(datasource.ReadSubscription{Channel: "missing-1", Collector: r})
	src.Flush()

	errs := ev.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], datasource.ErrChannelNotFound)
	var ce *datasource.ChannelError
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, "missing-1", ce.Channel)
	assert.Equal(t, 0, src.ActiveReads())
}

func TestBaseWorkerSurvivesPanic(t *testing.T) {
	src := newSource(t, "test")

	bad, badEv := newReader[any]()
	good, _ := newReader[any]()
	src.StartRead(datasource.ReadSubscription{Channel: "panic", Collector: bad})
	src.StartRead(datasource.ReadSubscription{Channel: "ok", Collector: good})
	src.Flush()

	require.Len(t, badEv.errors(), 1)
	assert.Contains(t, badEv.errors()[0].Error(), "panic")
	assert.True(t, good.Connected())
}

func TestBaseProcessesInSubmissionOrder(t *testing.T) {
	src := newSource(t, "test")

	r, _ := newReader[any]()
	sub := datasource.ReadSubscription{Channel: "a", Collector: r}
	for i := 0; i < 3; i++ {
		src.StartRead(sub)
		src.StopRead(sub)
	}
	src.Flush()

	ch := src.TestChannel("a")
	require.NotNil(t, ch)
	assert.Equal(t, 3, ch.Connects())
	assert.Equal(t, 3, ch.Disconnects())
	assert.Equal(t, 0, ch.UsageCounter())
}

func TestBaseStopNeverStartedIsLogged(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))

	cfg := datasource.DefaultConfig("test")
	cfg.Logger = logger
	base := datasource.NewBase(datasource.ChannelFactoryFunc(func(name string) (datasource.ChannelHandler, error) {
		return testsource.NewChannel(name, datasource.HandlerOptions{}), nil
	}), cfg)
	defer base.Close()

	r, ev := newReader[any]()
	assert.NotPanics(t, func() {
		base.StopRead(datasource.ReadSubscription{Channel: "a", Collector: r})
		base.StopWrite(datasource.WriteSubscription{Channel: "a", Collector: collector.NewWrite[int]()})
	})
	base.Flush()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Equal(t, 2, strings.Count(out, "never started"))
	assert.Empty(t, ev.errors())
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestBaseCloseDisconnectsChannels(t *testing.T) {
	src := testsource.New("test")

	r, _ := newReader[any]()
	src.StartRead(datasource.ReadSubscription{Channel: "a", Collector: r})
	src.StartRead(datasource.ReadSubscription{Channel: "b", Collector: r})
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	for _, name := range []string{"a", "b"} {
		ch := src.TestChannel(name)
		require.NotNil(t, ch, name)
		assert.Equal(t, 1, ch.Disconnects(), name)
	}

	late, ev := newReader[any]()
	src.StartRead(datasource.ReadSubscription{Channel: "c", Collector: late})
	require.Len(t, ev.errors(), 1)
	assert.ErrorIs(t, ev.errors()[0], datasource.ErrClosed)
}

func TestBaseWriteSubscription(t *testing.T) {
	src := newSource(t, "test")

	w := collector.NewWrite[string]()
	wev := &events{}
	w.SetUpdateListener(wev.listen)
	src.StartWrite(datasource.WriteSubscription{Channel: "rw-1", Collector: w})
	src.Flush()

	require.True(t, w.Connected())
	w.Set("on")
	require.NoError(t, w.SendWriteRequest())
	assert.Equal(t, []any{"on"}, src.WritableTestChannel("rw-1").Writes())
	assert.Equal(t, 1, src.ActiveWrites())

	src.StopWrite(datasource.WriteSubscription{Channel: "rw-1", Collector: w})
	src.Flush()
	assert.Equal(t, 0, src.ActiveWrites())
	assert.Equal(t, 1, src.TestChannel("rw-1").Disconnects())
}

// initFactory maps "x(3)" and "x" to the same handler.
type initFactory struct {
	mu      sync.Mutex
	created int
}

func (f *initFactory) CreateChannel(name string) (datasource.ChannelHandler, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return testsource.NewChannel(f.ChannelHandlerLookupName(name), datasource.HandlerOptions{}), nil
}

func (f *initFactory) ChannelHandlerLookupName(name string) string {
	if i := strings.IndexByte(name, '('); i >= 0 {
		return name[:i]
	}
	return name
}

func TestBaseLookupNameSharesHandler(t *testing.T) {
	f := &initFactory{}
	base := datasource.NewBase(f, datasource.DefaultConfig("init"))
	defer base.Close()

	r1, _ := newReader[any]()
	r2, _ := newReader[any]()
	base.StartRead(datasource.ReadSubscription{Channel: "x(3)", Collector: r1})
	base.StartRead(datasource.ReadSubscription{Channel: "x", Collector: r2})
	base.Flush()

	assert.Equal(t, 1, f.created)
	h := base.Channel("x(7)")
	require.NotNil(t, h)
	assert.Equal(t, 2, h.ReadUsageCounter())
	assert.Len(t, base.Channels(), 1)
}
