// Package scan turns source-rate collector events into desired-rate events.
//
// A Decoupler accumulates the events reported by collectors and emits them,
// merged, to a DesiredRateListener no faster than the configured rate. Only
// one desired-rate event is outstanding at a time: after the listener has
// finished with an event it must call ReadyForNextEvent before the next one
// is emitted. While paused, events keep accumulating and are flushed after
// Resume.
package scan

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/collector"
)

// DefaultMaxRate is the minimum interval between desired-rate events.
const DefaultMaxRate = 100 * time.Millisecond

// MaxPendingErrors bounds the errors kept between emissions. The oldest
// errors are dropped first.
const MaxPendingErrors = 64

// DesiredRateEvent is the merge of all source-rate events since the previous
// emission.
type DesiredRateEvent struct {
	Types  collector.EventType
	Errors []error
}

// Has returns true if any bit of t is set.
func (e DesiredRateEvent) Has(t collector.EventType) bool {
	return e.Types&t != 0
}

// LastError returns the most recent error, or nil.
func (e DesiredRateEvent) LastError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// DesiredRateListener receives desired-rate events.
type DesiredRateListener func(DesiredRateEvent)

// Decoupler is the contract shared by ActiveScan and PassiveScan.
type Decoupler interface {
	Start()
	Pause()
	Resume()
	Stop()
	IsPaused() bool
	IsStopped() bool
	ReadyForNextEvent()

	// UpdateListener returns the sink collectors report into.
	UpdateListener() collector.Listener
}

// Mode selects a Decoupler implementation.
type Mode uint8

const (
	// ModePassive emits as soon as the rate allows.
	ModePassive Mode = iota
	// ModeActive emits on a fixed ticker.
	ModeActive
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePassive:
		return "passive"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// Config configures a Decoupler.
type Config struct {
	// MaxRate is the minimum interval between two emissions.
	MaxRate time.Duration

	// Initial is posted by Start so the first emission reports the current
	// state. Zero means a connection and value request.
	Initial collector.EventType

	// Logger is optional.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with DefaultMaxRate.
func DefaultConfig() Config {
	return Config{MaxRate: DefaultMaxRate}
}

// New creates a decoupler of the given mode.
func New(mode Mode, config Config, listener DesiredRateListener) Decoupler {
	if mode == ModeActive {
		return NewActiveScan(config, listener)
	}
	return NewPassiveScan(config, listener)
}

// scanner holds the state both implementations share.
type scanner struct {
	interval time.Duration
	initial  collector.EventType
	listener DesiredRateListener
	logger   *slog.Logger

	mu       sync.Mutex
	pending  collector.EventType
	errors   []error
	inFlight bool
	paused   bool
	started  bool
	stopped  bool
	lastEmit time.Time

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func (s *scanner) init(config Config, listener DesiredRateListener) {
	s.interval = config.MaxRate
	s.initial = config.Initial
	if s.initial == 0 {
		s.initial = collector.EventReadConnection | collector.EventValue
	}
	s.logger = config.Logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.listener = listener
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
}

// start posts the initial request and launches run once.
func (s *scanner) start(run func()) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.pending |= s.initial
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run()
	}()
	s.signal()
}

func (s *scanner) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pause stops emissions. Events keep accumulating.
func (s *scanner) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts emissions.
func (s *scanner) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

// Stop ends the decoupler. It does not wait for the worker goroutine, so it
// may be called from the listener.
func (s *scanner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pending = 0
	s.errors = nil
	s.mu.Unlock()
	close(s.done)
	s.logger.Debug("decoupler stopped")
}

// Wait blocks until the worker goroutine has exited after Stop.
func (s *scanner) Wait() {
	s.wg.Wait()
}

// IsPaused reports whether emissions are paused.
func (s *scanner) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsStopped reports whether Stop was called.
func (s *scanner) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ReadyForNextEvent acknowledges the last emission.
func (s *scanner) ReadyForNextEvent() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
	s.signal()
}

// UpdateListener returns the collector sink.
func (s *scanner) UpdateListener() collector.Listener {
	return s.post
}

func (s *scanner) post(ev collector.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending |= ev.Type
	dropped := false
	if ev.Err != nil {
		if len(s.errors) == MaxPendingErrors {
			s.errors = append(s.errors[:0], s.errors[1:]...)
			dropped = true
		}
		s.errors = append(s.errors, ev.Err)
	}
	s.mu.Unlock()

	if dropped {
		s.logger.Debug("pending error dropped", "limit", MaxPendingErrors)
	}
	s.signal()
}

// emit hands the pending events to the listener if allowed. With
// enforceInterval it returns the time left before the rate allows an
// emission.
func (s *scanner) emit(now time.Time, enforceInterval bool) time.Duration {
	s.mu.Lock()
	if s.stopped || s.paused || s.inFlight || (s.pending == 0 && len(s.errors) == 0) {
		s.mu.Unlock()
		return 0
	}
	if enforceInterval && !s.lastEmit.IsZero() {
		if rem := s.interval - now.Sub(s.lastEmit); rem > 0 {
			s.mu.Unlock()
			return rem
		}
	}
	ev := DesiredRateEvent{Types: s.pending, Errors: s.errors}
	s.pending = 0
	s.errors = nil
	s.inFlight = true
	s.lastEmit = now
	s.mu.Unlock()

	s.listener(ev)
	return 0
}
