package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(BackoffConfig{Jitter: -1})

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, InitialBackoff, b.Current())
}

func TestBackoffJitterRange(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Second})
	for range 100 {
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestBackoffConfigDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Minute, Multiplier: 0.5})
	assert.Equal(t, DefaultBackoffConfig().Multiplier, b.cfg.Multiplier)
	assert.Equal(t, time.Minute, b.cfg.Max)
}

func fastConfig(states *stateLog) Config {
	c := DefaultConfig()
	c.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 4 * time.Millisecond, Jitter: -1}
	if states != nil {
		c.OnStateChange = states.record
	}
	return c
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(_, s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestManagerRetriesUntilConnected(t *testing.T) {
	var calls atomic.Int32
	states := &stateLog{}
	m := NewManager(func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	}, fastConfig(states))
	defer m.Close()

	require.NoError(t, m.Start())
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, m.Attempts())
	assert.Equal(t, []State{StateConnecting, StateConnected}, states.snapshot())
}

func TestManagerReconnectsAfterLoss(t *testing.T) {
	var calls atomic.Int32
	states := &stateLog{}
	m := NewManager(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, fastConfig(states))
	defer m.Close()

	require.NoError(t, m.Start())
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)

	m.NotifyConnectionLost()
	require.Eventually(t, func() bool { return calls.Load() == 2 && m.IsConnected() }, time.Second, time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, states.snapshot())
}

func TestManagerIgnoresLossWhenNotConnected(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return errors.New("down") }, fastConfig(nil))
	m.NotifyConnectionLost()
	assert.Equal(t, StateIdle, m.State())
	m.Close()
}

func TestManagerCloseStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("down")
	}, fastConfig(nil))

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	m.Close()

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
	assert.Equal(t, StateClosed, m.State())
	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestManagerCloseCancelsAttempt(t *testing.T) {
	started := make(chan struct{})
	m := NewManager(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, fastConfig(nil))

	require.NoError(t, m.Start())
	<-started
	m.Close()
	assert.Equal(t, StateClosed, m.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
