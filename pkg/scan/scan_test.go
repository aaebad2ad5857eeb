package scan

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanmux/chanmux-go/pkg/collector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sink struct {
	mu     sync.Mutex
	events []DesiredRateEvent
	got    chan struct{}
}

func newSink() *sink {
	return &sink{got: make(chan struct{}, 100)}
}

func (s *sink) listen(ev DesiredRateEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *sink) at(i int) DesiredRateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[i]
}

func (s *sink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for desired-rate event")
	}
}

func (s *sink) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-s.got:
		t.Fatal("unexpected desired-rate event")
	case <-time.After(d):
	}
}

type stopper interface {
	Decoupler
	Wait()
}

func modes() map[string]func(Config, DesiredRateListener) stopper {
	return map[string]func(Config, DesiredRateListener) stopper{
		"Passive": func(c Config, l DesiredRateListener) stopper { return NewPassiveScan(c, l) },
		"Active":  func(c Config, l DesiredRateListener) stopper { return NewActiveScan(c, l) },
	}
}

func TestStartPostsInitialRequest(t *testing.T) {
	for name, mk := range modes() {
		t.Run(name, func(t *testing.T) {
			s := newSink()
			d := mk(Config{MaxRate: 5 * time.Millisecond}, s.listen)
			defer func() { d.Stop(); d.Wait() }()

			d.Start()
			s.wait(t)

			ev := s.at(0)
			assert.True(t, ev.Has(collector.EventReadConnection))
			assert.True(t, ev.Has(collector.EventValue))
		})
	}
}

func TestNoEmissionUntilAcknowledged(t *testing.T) {
	for name, mk := range modes() {
		t.Run(name, func(t *testing.T) {
			s := newSink()
			d := mk(Config{MaxRate: 5 * time.Millisecond}, s.listen)
			defer func() { d.Stop(); d.Wait() }()

			d.Start()
			s.wait(t)

			post := d.UpdateListener()
			for i := 0; i < 50; i++ {
				post(collector.Event{Type: collector.EventValue})
			}
			post(collector.Event{Type: collector.EventReadError, Err: errors.New("e1")})
			s.none(t, 30*time.Millisecond)

			d.ReadyForNextEvent()
			s.wait(t)
			require.Equal(t, 2, s.len())

			ev := s.at(1)
			assert.True(t, ev.Has(collector.EventValue))
			assert.True(t, ev.Has(collector.EventReadError))
			assert.EqualError(t, ev.LastError(), "e1")

			d.ReadyForNextEvent()
			s.none(t, 30*time.Millisecond)
		})
	}
}

func TestPauseAccumulatesUntilResume(t *testing.T) {
	for name, mk := range modes() {
		t.Run(name, func(t *testing.T) {
			s := newSink()
			d := mk(Config{MaxRate: 5 * time.Millisecond}, s.listen)
			defer func() { d.Stop(); d.Wait() }()

			d.Start()
			s.wait(t)
			d.ReadyForNextEvent()

			d.Pause()
			assert.True(t, d.IsPaused())
			d.UpdateListener()(collector.Event{Type: collector.EventReadConnection})
			d.UpdateListener()(collector.Event{Type: collector.EventValue})
			s.none(t, 30*time.Millisecond)

			d.Resume()
			s.wait(t)
			ev := s.at(1)
			assert.Equal(t, collector.EventReadConnection|collector.EventValue, ev.Types)
		})
	}
}

func TestPassiveRespectsMaxRate(t *testing.T) {
	s := newSink()
	d := NewPassiveScan(Config{MaxRate: 50 * time.Millisecond}, s.listen)
	defer func() { d.Stop(); d.Wait() }()

	d.Start()
	s.wait(t)
	first := time.Now()
	d.ReadyForNextEvent()

	d.UpdateListener()(collector.Event{Type: collector.EventValue})
	s.wait(t)
	assert.GreaterOrEqual(t, time.Since(first), 40*time.Millisecond)
}

func TestStopDropsEvents(t *testing.T) {
	for name, mk := range modes() {
		t.Run(name, func(t *testing.T) {
			s := newSink()
			d := mk(Config{MaxRate: 5 * time.Millisecond}, s.listen)
			d.Start()
			s.wait(t)

			d.Stop()
			d.Stop()
			d.Wait()
			assert.True(t, d.IsStopped())

			d.ReadyForNextEvent()
			d.UpdateListener()(collector.Event{Type: collector.EventValue})
			s.none(t, 20*time.Millisecond)
		})
	}
}

func TestPendingErrorsBounded(t *testing.T) {
	s := newSink()
	d := NewPassiveScan(Config{}, s.listen)
	defer func() { d.Stop(); d.Wait() }()

	d.Start()
	s.wait(t)

	for i := 0; i < MaxPendingErrors+10; i++ {
		d.UpdateListener()(collector.Event{Type: collector.EventReadError, Err: errors.New("e")})
	}
	d.ReadyForNextEvent()
	s.wait(t)
	assert.Len(t, s.at(1).Errors, MaxPendingErrors)
}

func TestNewSelectsMode(t *testing.T) {
	a := New(ModeActive, DefaultConfig(), func(DesiredRateEvent) {})
	p := New(ModePassive, DefaultConfig(), func(DesiredRateEvent) {})
	assert.IsType(t, &ActiveScan{}, a)
	assert.IsType(t, &PassiveScan{}, p)
	assert.Equal(t, "active", ModeActive.String())
	a.Stop()
	p.Stop()
}
