package transport

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultPongTimeout is the default wait for the pong of one ping.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the number of missed pongs that declares the
	// connection dead.
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest time a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c *KeepAliveConfig) normalize() {
	def := DefaultKeepAliveConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = def.MaxMissedPongs
	}
}

// KeepAliveStats is a snapshot of keep-alive state.
type KeepAliveStats struct {
	LastPing    time.Time
	LastPong    time.Time
	LastLatency time.Duration
	MissedPongs int
	Sequence    uint32
}

// KeepAlive pings a peer periodically and calls onTimeout once when
// MaxMissedPongs pings in a row went unanswered.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	mu      sync.Mutex
	seq     uint32
	pending bool
	stats   KeepAliveStats
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKeepAlive creates a keep-alive monitor. It does nothing until Start.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	config.normalize()
	return &KeepAlive{config: config, sendPing: sendPing, onTimeout: onTimeout}
}

// Start begins pinging. A second Start is ignored.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.cancel != nil {
		return
	}
	ctx, ka.cancel = context.WithCancel(ctx)
	ka.done = make(chan struct{})
	go ka.loop(ctx, ka.done)
}

// Stop ends pinging and waits for the loop to exit. It must not be called
// from onTimeout.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	cancel, done := ka.cancel, ka.done
	ka.cancel, ka.done = nil, nil
	ka.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning reports whether the loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.cancel != nil
}

// PongReceived records the answer to ping seq. Stale sequence numbers are
// ignored.
func (ka *KeepAlive) PongReceived(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.pending || seq != ka.seq {
		return
	}
	now := time.Now()
	ka.pending = false
	ka.stats.LastPong = now
	ka.stats.LastLatency = now.Sub(ka.stats.LastPing)
	ka.stats.MissedPongs = 0
}

// Stats returns a snapshot of the current state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	s := ka.stats
	s.Sequence = ka.seq
	return s
}

func (ka *KeepAlive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()
	check := time.NewTimer(ka.config.PongTimeout)
	defer check.Stop()

	ka.ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ka.ping()
			check.Reset(ka.config.PongTimeout)
		case <-check.C:
			if ka.expire() {
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
		}
	}
}

func (ka *KeepAlive) ping() {
	ka.mu.Lock()
	if ka.pending {
		// The previous ping was never answered and its check did not fire
		// yet; count it now.
		ka.stats.MissedPongs++
	}
	ka.seq++
	seq := ka.seq
	ka.pending = true
	ka.stats.LastPing = time.Now()
	ka.mu.Unlock()

	// A failed send is detected as a missed pong.
	_ = ka.sendPing(seq)
}

// expire counts a missing pong and reports whether the peer is dead.
func (ka *KeepAlive) expire() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.pending {
		ka.pending = false
		ka.stats.MissedPongs++
	}
	return ka.stats.MissedPongs >= ka.config.MaxMissedPongs
}
