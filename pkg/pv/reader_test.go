package pv

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanmux/chanmux-go/internal/testsource"
	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/chanmux/chanmux-go/pkg/scan"
)

func TestReadDeliversValueAndConnection(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}

	r, err := Read[float64](src, Channel[float64]("a"), fastConfig(), listenerFor[float64](rec))
	require.NoError(t, err)
	defer r.Close()

	src.Flush()
	src.TestChannel("a").ProcessMessage(1.5)

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 1.5 && r.IsConnected()
	}, waitFor, tick)

	assert.Equal(t, "a", r.Name())
	assert.NotEmpty(t, r.ID())
	assert.NoError(t, r.LastError())
}

func TestReadRejectsNilArguments(t *testing.T) {
	_, err := Read[int](nil, Channel[int]("a"), DefaultReadConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDataSource)

	src := newSource(t)
	_, err = Read[int](src, nil, DefaultReadConfig(), nil)
	assert.ErrorIs(t, err, ErrNilExpression)
}

func TestReadActiveScan(t *testing.T) {
	src := newSource(t)
	cfg := fastConfig()
	cfg.Scan = scan.ModeActive

	r, err := Read[float64](src, Channel[float64]("a"), cfg, nil)
	require.NoError(t, err)
	defer r.Close()

	src.Flush()
	src.TestChannel("a").ProcessMessage(2.0)

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 2.0
	}, waitFor, tick)
}

func TestAggregateConnectionRequiresEveryChannel(t *testing.T) {
	src := newSource(t, testsource.WithManualConnect())
	m := MapOf(Channel[float64]("a"), Channel[float64]("b"))

	r, err := Read[map[string]float64](src, m, fastConfig(), nil)
	require.NoError(t, err)
	defer r.Close()

	src.Flush()
	src.TestChannel("a").ProcessConnection(true)
	src.TestChannel("a").ProcessMessage(1.0)

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && len(v) == 1
	}, waitFor, tick)
	assert.False(t, r.IsConnected())

	src.TestChannel("b").ProcessConnection(true)
	require.Eventually(t, r.IsConnected, waitFor, tick)

	src.TestChannel("b").ProcessConnection(false)
	require.Eventually(t, func() bool { return !r.IsConnected() }, waitFor, tick)
}

func TestAggregateWithoutCollectorsIsDisconnected(t *testing.T) {
	d := &director[int]{collectors: make(map[collector.ReadCollector]struct{})}
	assert.False(t, d.aggregateLocked())
}

// delayExecutor runs every task on its own goroutine after a pause and
// records the highest number of tasks running at once.
type delayExecutor struct {
	delay   time.Duration
	running atomic.Int32
	max     atomic.Int32
	done    atomic.Int32
}

func (e *delayExecutor) Execute(task func()) {
	go func() {
		n := e.running.Add(1)
		for {
			m := e.max.Load()
			if n <= m || e.max.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(e.delay)
		task()
		e.running.Add(-1)
		e.done.Add(1)
	}()
}

func TestNotificationsNeverOverlap(t *testing.T) {
	src := newSource(t)
	exec := &delayExecutor{delay: 5 * time.Millisecond}
	cfg := fastConfig()
	cfg.Executor = exec

	var delivered atomic.Int32
	r, err := Read[float64](src, Channel[float64]("a"), cfg, func(ReaderEvent, *Reader[float64]) {
		delivered.Add(1)
	})
	require.NoError(t, err)

	src.Flush()
	ch := src.TestChannel("a")
	for i := range 50 {
		ch.ProcessMessage(float64(i))
		time.Sleep(200 * time.Microsecond)
	}

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 49
	}, waitFor, tick)
	r.Close()
	require.Eventually(t, func() bool { return exec.running.Load() == 0 }, waitFor, tick)

	assert.Equal(t, int32(1), exec.max.Load())
	assert.Less(t, delivered.Load(), int32(50))
}

// slowReader returns a running reader whose decoupler will not emit again
// for an hour after the first notification, so tests can drive notifyPv
// directly.
func slowReader(t *testing.T, src *testsource.Source, m *metrics.Collector, rec *recorder) *Reader[float64] {
	t.Helper()
	cfg := DefaultReadConfig()
	cfg.MaxRate = time.Hour
	cfg.Executor = InlineExecutor{}
	cfg.Metrics = m

	r, err := Read[float64](src, Channel[float64]("a"), cfg, listenerFor[float64](rec))
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.Eventually(t, func() bool { return len(rec.all()) > 0 }, waitFor, tick)
	src.Flush()
	return r
}

func TestNotificationRejectedWhileInFlight(t *testing.T) {
	src := newSource(t)
	m := metrics.New(prometheus.NewRegistry())
	rec := &recorder{}
	r := slowReader(t, src, m, rec)
	before := len(rec.all())

	d := r.director
	d.mu.Lock()
	d.inFlight = true
	d.mu.Unlock()

	d.notifyPv(scan.DesiredRateEvent{Types: collector.EventValue | collector.EventReadConnection})

	assert.Len(t, rec.all(), before)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsRejected))

	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
}

func TestRepeatedErrorsAreSuppressed(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	r := slowReader(t, src, nil, rec)
	d := r.director

	boom := errors.New("boom")
	post := func(err error) {
		d.notifyPv(scan.DesiredRateEvent{Types: collector.EventReadError, Errors: []error{err}})
	}

	post(boom)
	post(errors.New("boom"))
	require.Len(t, rec.errors(), 1)

	post(errors.New("bang"))
	require.Len(t, rec.errors(), 2)

	src.TestChannel("a").ProcessMessage(3.0)
	d.notifyPv(scan.DesiredRateEvent{Types: collector.EventValue})
	v, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	post(errors.New("bang"))
	assert.Len(t, rec.errors(), 3)
	assert.EqualError(t, r.LastError(), "bang")
}

func TestTimeoutInBatchKeepsChannelError(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	r := slowReader(t, src, nil, rec)
	d := r.director

	link := errors.New("link dropped")
	d.notifyPv(scan.DesiredRateEvent{
		Types:  collector.EventReadError | collector.EventReadConnection,
		Errors: []error{link, &TimeoutError{Message: "late"}},
	})
	require.Len(t, rec.errors(), 1)
	assert.Equal(t, link, rec.errors()[0])

	d.notifyPv(scan.DesiredRateEvent{
		Types:  collector.EventReadError,
		Errors: []error{&TimeoutError{Message: "late"}},
	})
	assert.Len(t, rec.errors(), 1)

	d.notifyPv(scan.DesiredRateEvent{
		Types:  collector.EventReadError,
		Errors: []error{errors.New("first"), errors.New("second")},
	})
	require.Len(t, rec.errors(), 2)
	assert.EqualError(t, rec.errors()[1], "second")
}

func TestRepeatedEvaluationErrorSuppressedAcrossValues(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	expr := Transform[float64, float64](Channel[float64]("a"), func(v float64) (float64, error) {
		switch {
		case v < 0:
			return 0, errors.New("negative")
		case v == 0:
			return 0, errors.New("zero")
		}
		return v, nil
	})
	cfg := DefaultReadConfig()
	cfg.MaxRate = time.Hour
	cfg.Executor = InlineExecutor{}
	r, err := Read[float64](src, expr, cfg, listenerFor[float64](rec))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Eventually(t, func() bool { return len(rec.all()) > 0 }, waitFor, tick)
	src.Flush()
	d := r.director

	post := func(v float64) {
		src.TestChannel("a").ProcessMessage(v)
		d.notifyPv(scan.DesiredRateEvent{Types: collector.EventValue})
	}

	post(-1)
	require.Len(t, rec.errors(), 1)
	post(2)
	got, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 2.0, got)

	post(-3)
	assert.Len(t, rec.errors(), 1)

	post(0)
	require.Len(t, rec.errors(), 2)
	assert.EqualError(t, rec.errors()[1], "zero")
}

func TestEvaluationPanicBecomesError(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	expr := Transform[float64, float64](Channel[float64]("a"), func(float64) (float64, error) {
		panic("bad transform")
	})

	r, err := Read[float64](src, expr, fastConfig(), listenerFor[float64](rec))
	require.NoError(t, err)
	defer r.Close()

	src.Flush()
	src.TestChannel("a").ProcessMessage(1.0)

	require.Eventually(t, func() bool { return len(rec.errors()) > 0 }, waitFor, tick)
	assert.Contains(t, rec.errors()[0].Error(), "bad transform")
	_, ok := r.Value()
	assert.False(t, ok)
}

func TestTimeoutWhenNeverConnected(t *testing.T) {
	src := newSource(t, testsource.WithManualConnect())
	rec := &recorder{}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.TimeoutMessage = "no answer"

	r, err := Read[float64](src, Channel[float64]("a"), cfg, listenerFor[float64](rec))
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, waitFor, tick)
	err = rec.errors()[0]
	assert.ErrorIs(t, err, ErrTimeout)
	assert.EqualError(t, err, "no answer")
}

func TestTimeoutIgnoredOnceConnected(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	cfg := fastConfig()
	cfg.Timeout = 30 * time.Millisecond

	r, err := Read[float64](src, Channel[float64]("a"), cfg, listenerFor[float64](rec))
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, r.IsConnected, waitFor, tick)
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.errors())
}

func TestPauseAndResume(t *testing.T) {
	src := newSource(t)
	rec := &recorder{}
	r, err := Read[float64](src, Channel[float64]("a"), fastConfig(), listenerFor[float64](rec))
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, r.IsConnected, waitFor, tick)
	r.Pause()
	assert.True(t, r.IsPaused())
	time.Sleep(10 * time.Millisecond)

	src.TestChannel("a").ProcessMessage(7.0)
	time.Sleep(20 * time.Millisecond)
	_, ok := r.Value()
	assert.False(t, ok)

	r.Resume()
	assert.False(t, r.IsPaused())
	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 7.0
	}, waitFor, tick)
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	src := newSource(t)
	r, err := Read[float64](src, Channel[float64]("a"), fastConfig(), nil)
	require.NoError(t, err)

	src.Flush()
	require.Equal(t, 1, src.ActiveReads())

	r.Close()
	r.Close()
	assert.True(t, r.IsClosed())

	src.Flush()
	assert.Equal(t, 0, src.ActiveReads())
	assert.Equal(t, 0, src.TestChannel("a").ReadUsageCounter())
}

func TestCloseFromListener(t *testing.T) {
	src := newSource(t)
	closed := make(chan struct{})
	r, err := Read[float64](src, Channel[float64]("a"), fastConfig(), func(ev ReaderEvent, r *Reader[float64]) {
		if ev.Connection && r.IsConnected() {
			r.Close()
			close(closed)
		}
	})
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("listener never saw a connection")
	}
	assert.True(t, r.IsClosed())
}

func openAndDrop(src *testsource.Source, m *metrics.Collector) {
	cfg := fastConfig()
	cfg.Metrics = m
	_, _ = Read[float64](src, Channel[float64]("leak"), cfg, nil)
}

func TestUnclosedReaderIsDetectedAsLeak(t *testing.T) {
	src := newSource(t)
	m := metrics.New(prometheus.NewRegistry())

	openAndDrop(src, m)
	src.Flush()
	require.Equal(t, 1, src.ActiveReads())

	require.Eventually(t, func() bool {
		runtime.GC()
		return testutil.ToFloat64(m.Leaks) == 1
	}, waitFor, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		src.Flush()
		return src.ActiveReads() == 0
	}, waitFor, tick)
}

func TestListenerPanicDoesNotStopReader(t *testing.T) {
	src := newSource(t)
	var calls atomic.Int32
	r, err := Read[float64](src, Channel[float64]("a"), fastConfig(), func(ReaderEvent, *Reader[float64]) {
		calls.Add(1)
		panic("listener")
	})
	require.NoError(t, err)
	defer r.Close()

	src.Flush()
	src.TestChannel("a").ProcessMessage(1.0)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, waitFor, tick)
}
