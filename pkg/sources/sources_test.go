package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/pv"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewRegistersBackends(t *testing.T) {
	c := New(Config{Routing: datasource.DefaultCompositeConfig()})
	defer c.Close()
	assert.Equal(t, []string{"file", "loc", "sim", "sys"}, c.Providers())
	assert.Empty(t, c.DataSourceNames())

	withRemote := Config{Remote: "tcp://127.0.0.1:1"}
	assert.Contains(t, withRemote.Names(), "remote")
}

func TestReadLocalThroughComposite(t *testing.T) {
	c := New(Config{Routing: datasource.CompositeConfig{DefaultDataSource: "loc"}})
	defer c.Close()

	cfg := pv.DefaultReadConfig()
	cfg.MaxRate = time.Millisecond
	r, err := pv.Read[float64](c, pv.Channel[float64]("x(2)"), cfg, nil)
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, func() bool {
		v, ok := r.Value()
		return ok && v == 2
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"loc"}, c.DataSourceNames())
}
