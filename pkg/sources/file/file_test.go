package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newSource(t *testing.T) (*Source, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = dir
	s := New(cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestParseContent(t *testing.T) {
	assert.Equal(t, 4.5, parseContent([]byte(" 4.5\n")))
	assert.Equal(t, "hello", parseContent([]byte("hello\n")))
	assert.Equal(t, "", parseContent(nil))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1.5\n", string(formatValue(1.5)))
	assert.Equal(t, "x\n", string(formatValue("x")))
	assert.Equal(t, "7\n", string(formatValue(7)))
}

func TestReadFollowsFile(t *testing.T) {
	s, dir := newSource(t)
	path := filepath.Join(dir, "temp")
	require.NoError(t, os.WriteFile(path, []byte("21\n"), 0o644))

	c := collector.NewLatestValue[any]()
	sub := datasource.ReadSubscription{Channel: "temp", Collector: c}
	s.StartRead(sub)
	defer s.StopRead(sub)

	require.Eventually(t, func() bool {
		v, ok := c.Get()
		return ok && v == 21.0 && c.Connected()
	}, waitFor, tick)

	require.NoError(t, os.WriteFile(path, []byte("warm\n"), 0o644))
	require.Eventually(t, func() bool {
		v, _ := c.Get()
		return v == "warm"
	}, waitFor, tick)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return !c.Connected() }, waitFor, tick)
}

func TestMissingFileIsDisconnected(t *testing.T) {
	s, dir := newSource(t)

	c := collector.NewLatestValue[float64]()
	sub := datasource.ReadSubscription{Channel: "later", Collector: c}
	s.StartRead(sub)
	defer s.StopRead(sub)
	s.Flush()
	assert.False(t, c.Connected())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "later"), []byte("3"), 0o644))
	require.Eventually(t, func() bool {
		v, ok := c.Get()
		return ok && v == 3 && c.Connected()
	}, waitFor, tick)
}

func TestWriteReplacesFile(t *testing.T) {
	s, dir := newSource(t)
	path := filepath.Join(dir, "setpoint")

	w := collector.NewWrite[float64]()
	s.StartWrite(datasource.WriteSubscription{Channel: path, Collector: w})
	s.Flush()

	w.Set(12.5)
	result := make(chan error, 1)
	require.NoError(t, w.Send(func(err error) { result <- err }))
	require.NoError(t, <-result)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "12.5\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpellingsShareChannel(t *testing.T) {
	s, dir := newSource(t)
	assert.Equal(t, s.ChannelHandlerLookupName("a"), s.ChannelHandlerLookupName(filepath.Join(dir, "x", "..", "a")))
	assert.Equal(t, "", s.ChannelHandlerLookupName(""))
}
