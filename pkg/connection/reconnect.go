package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("connection manager closed")

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 10 * time.Second

// State is the connection state.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes a connection. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	Backoff        BackoffConfig
	ConnectTimeout time.Duration
	Logger         *slog.Logger

	// OnStateChange is called outside the manager lock for every transition.
	OnStateChange func(old, new State)
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffConfig(),
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Manager connects with retries and reconnects when told the connection
// was lost. Callbacks run on the manager goroutine, one at a time.
type Manager struct {
	connect ConnectFunc
	config  Config
	logger  *slog.Logger
	backoff *Backoff

	mu    sync.Mutex
	state State

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. Nothing happens until Start.
func NewManager(connect ConnectFunc, config Config) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connect: connect,
		config:  config,
		logger:  logger,
		backoff: NewBackoff(config.Backoff),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins connecting in the background. It returns ErrClosed after
// Close; a second Start is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	switch {
	case m.state == StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case m.done != nil:
		m.mu.Unlock()
		return nil
	}
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.setState(StateConnecting)
	go m.run()
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the last attempt succeeded and no loss has
// been reported since.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the number of failed attempts since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// NotifyConnectionLost schedules a reconnect. It is ignored unless the
// manager is connected.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.setState(StateReconnecting)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close stops reconnecting and waits for the manager goroutine. It must not
// be called from OnStateChange or the ConnectFunc.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	done := m.done
	m.mu.Unlock()

	m.cancel()
	if done != nil {
		<-done
	}
	m.setState(StateClosed)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	if old == s || old == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.logger.Debug("connection state", "from", old.String(), "to", s.String())
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(old, s)
	}
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		if !m.connectWithRetry() {
			return
		}
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
	}
}

// connectWithRetry returns false when the manager was closed.
func (m *Manager) connectWithRetry() bool {
	for {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
		err := m.connect(ctx)
		cancel()

		if m.ctx.Err() != nil {
			return false
		}
		if err == nil {
			m.backoff.Reset()
			m.setState(StateConnected)
			return true
		}

		delay := m.backoff.Next()
		m.logger.Info("connect failed, retrying",
			"attempt", m.backoff.Attempts(),
			"delay", delay,
			"error", err)

		t := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}
