// Package sources assembles the built-in data sources into a composite.
package sources

import (
	"log/slog"
	"time"

	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/chanmux/chanmux-go/pkg/sources/file"
	"github.com/chanmux/chanmux-go/pkg/sources/local"
	"github.com/chanmux/chanmux-go/pkg/sources/remote"
	"github.com/chanmux/chanmux-go/pkg/sources/sim"
	"github.com/chanmux/chanmux-go/pkg/sources/sys"
)

// Config selects and configures the built-in backends.
type Config struct {
	// Routing is the composite routing configuration.
	Routing datasource.CompositeConfig

	Logger   *slog.Logger
	EventLog log.Logger
	Metrics  *metrics.Collector

	// FileRoot resolves relative names of the file backend.
	FileRoot string

	// SysPollInterval defaults to sys.DefaultPollInterval.
	SysPollInterval time.Duration

	// Remote is the server address of the remote backend. Empty leaves the
	// backend out.
	Remote string

	// RemoteResolver resolves mdns:// remote addresses (optional).
	RemoteResolver remote.Resolver
}

// Names returns the backend names New registers for config.
func (c Config) Names() []string {
	names := []string{file.Name, local.Name, sim.Name, sys.Name}
	if c.Remote != "" {
		names = append(names, remote.Name)
	}
	return names
}

func (c Config) base(name string) datasource.Config {
	return datasource.Config{
		Name:     name,
		Logger:   c.Logger,
		EventLog: c.EventLog,
		Metrics:  c.Metrics,
	}
}

// New creates a composite with a provider for every backend config names.
// Backends are instantiated on first use.
func New(config Config) *datasource.Composite {
	var opts []datasource.CompositeOption
	if config.Logger != nil {
		opts = append(opts, datasource.WithLogger(config.Logger))
	}
	if config.Metrics != nil {
		opts = append(opts, datasource.WithMetrics(config.Metrics))
	}
	c := datasource.NewComposite(config.Routing, opts...)

	c.PutProvider(local.Provider(config.base(local.Name)))
	c.PutProvider(sim.Provider(config.base(sim.Name)))

	sysCfg := sys.DefaultConfig()
	sysCfg.Config = config.base(sys.Name)
	if config.SysPollInterval > 0 {
		sysCfg.PollInterval = config.SysPollInterval
	}
	c.PutProvider(sys.Provider(sysCfg))

	fileCfg := file.DefaultConfig()
	fileCfg.Config = config.base(file.Name)
	fileCfg.Root = config.FileRoot
	c.PutProvider(file.Provider(fileCfg))

	if config.Remote != "" {
		remoteCfg := remote.DefaultConfig(config.Remote)
		remoteCfg.Config = config.base(remote.Name)
		remoteCfg.Resolver = config.RemoteResolver
		c.PutProvider(remote.Provider(remoteCfg))
	}
	return c
}
