package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/pv"
	"github.com/chanmux/chanmux-go/pkg/sources/local"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func newSource(t *testing.T) *local.Source {
	t.Helper()
	s := local.New(datasource.DefaultConfig(""))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readConfig() pv.ReadConfig {
	cfg := pv.DefaultReadConfig()
	cfg.MaxRate = time.Millisecond
	return cfg
}

func TestInitialValue(t *testing.T) {
	s := newSource(t)
	assert.Equal(t, local.Name, s.Name())

	r, err := pv.Read[float64](s, pv.Channel[float64]("x(3)"), readConfig(), nil)
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 3 && r.IsConnected()
	}, waitFor, tick)
}

func TestNameWithAndWithoutInitializerShareChannel(t *testing.T) {
	s := newSource(t)

	r1, err := pv.Read[float64](s, pv.Channel[float64]("x(3)"), readConfig(), nil)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := pv.Read[float64](s, pv.Channel[float64]("x"), readConfig(), nil)
	require.NoError(t, err)
	defer r2.Close()

	require.Eventually(t, func() bool {
		v, ok := r2.Value()
		return ok && v == 3
	}, waitFor, tick)
	assert.Len(t, s.Channels(), 1)
	assert.NotNil(t, s.Channel("x(7)"))
}

func TestConflictingInitializerIsReaderError(t *testing.T) {
	s := newSource(t)

	r1, err := pv.Read[float64](s, pv.Channel[float64]("x(3)"), readConfig(), nil)
	require.NoError(t, err)
	defer r1.Close()

	errs := make(chan error, 1)
	r2, err := pv.Read[float64](s, pv.Channel[float64]("x(4)"), readConfig(), func(ev pv.ReaderEvent, _ *pv.Reader[float64]) {
		if ev.Err != nil {
			select {
			case errs <- ev.Err:
			default:
			}
		}
	})
	require.NoError(t, err)
	defer r2.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, local.ErrInitialValueMismatch)
	case <-time.After(waitFor):
		t.Fatal("no error for conflicting initializer")
	}

	require.Eventually(t, func() bool {
		v, ok := r1.Value()
		return ok && v == 3
	}, waitFor, tick)
}

func TestWriteIsSeenByReaders(t *testing.T) {
	s := newSource(t)

	r, err := pv.Read[string](s, pv.Channel[string]("msg(\"hi\")"), readConfig(), nil)
	require.NoError(t, err)
	defer r.Close()

	w, err := pv.Write[string](s, "msg", pv.DefaultWriteConfig(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, "bye"))

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == "bye"
	}, waitFor, tick)
}

func TestWriteMustKeepTypeFamily(t *testing.T) {
	s := newSource(t)

	w, err := pv.Write[any](s, "n(1)", pv.DefaultWriteConfig(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, 2))
	assert.ErrorIs(t, w.WriteAndWait(ctx, "two"), local.ErrTypeFamily)
	assert.ErrorIs(t, w.WriteAndWait(ctx, []float64{1, 2}), local.ErrTypeFamily)
}

func TestValueSurvivesLastReader(t *testing.T) {
	s := newSource(t)

	w, err := pv.Write[float64](s, "keep", pv.DefaultWriteConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.WriteAndWait(ctx, 42))
	w.Close()
	s.Flush()

	r, err := pv.Read[float64](s, pv.Channel[float64]("keep"), readConfig(), nil)
	require.NoError(t, err)
	defer r.Close()
	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 42
	}, waitFor, tick)
}

func TestProvider(t *testing.T) {
	p := local.Provider(datasource.Config{})
	assert.Equal(t, local.Name, p.Name())
	ds, err := p.CreateInstance()
	require.NoError(t, err)
	require.NoError(t, ds.Close())
}
