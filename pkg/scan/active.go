package scan

import (
	"time"
)

// ActiveScan emits on every tick of a fixed ticker, if events are pending
// and the previous emission has been acknowledged.
type ActiveScan struct {
	scanner
}

// NewActiveScan creates an active decoupler. A MaxRate below one millisecond
// is replaced by DefaultMaxRate.
func NewActiveScan(config Config, listener DesiredRateListener) *ActiveScan {
	if config.MaxRate < time.Millisecond {
		config.MaxRate = DefaultMaxRate
	}
	s := &ActiveScan{}
	s.init(config, listener)
	return s
}

// Start launches the ticker.
func (s *ActiveScan) Start() {
	s.start(s.run)
}

func (s *ActiveScan) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.emit(now, false)
		case <-s.wake:
			// Ticks drive emission; wake-ups are only drained.
		}
	}
}

var _ Decoupler = (*ActiveScan)(nil)
