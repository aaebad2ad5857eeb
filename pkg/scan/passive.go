package scan

import (
	"time"
)

// PassiveScan emits as soon as an event arrives, the previous emission has
// been acknowledged and MaxRate has elapsed since the last emission.
// Otherwise a one-shot timer fires when the interval has passed.
type PassiveScan struct {
	scanner
}

// NewPassiveScan creates a passive decoupler. A zero MaxRate disables rate
// limiting; only the acknowledgement handshake remains.
func NewPassiveScan(config Config, listener DesiredRateListener) *PassiveScan {
	if config.MaxRate < 0 {
		config.MaxRate = 0
	}
	s := &PassiveScan{}
	s.init(config, listener)
	return s
}

// Start launches the worker and emits the initial request.
func (s *PassiveScan) Start() {
	s.start(s.run)
}

func (s *PassiveScan) run() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	armed := false

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-timer.C:
			armed = false
		}

		if wait := s.emit(time.Now(), true); wait > 0 && !armed {
			timer.Reset(wait)
			armed = true
		}
	}
}

var _ Decoupler = (*PassiveScan)(nil)
