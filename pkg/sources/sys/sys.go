// Package sys implements the "sys" backend: read-only channels with
// information about the running process.
package sys

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Name is the conventional backend name.
const Name = "sys"

// DefaultPollInterval is how often values are refreshed.
const DefaultPollInterval = time.Second

type probe func() any

var probes = map[string]probe{
	"time":       func() any { return time.Now().Format(time.RFC3339) },
	"hostname":   hostname,
	"goroutines": func() any { return float64(runtime.NumGoroutine()) },
	"heap_mb":    func() any { return memMB(func(m *runtime.MemStats) uint64 { return m.HeapAlloc }) },
	"sys_mb":     func() any { return memMB(func(m *runtime.MemStats) uint64 { return m.Sys }) },
	"cpus":       func() any { return float64(runtime.NumCPU()) },
}

// ChannelNames returns the supported channel names.
func ChannelNames() []string {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func hostname() any {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func memMB(field func(*runtime.MemStats) uint64) any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(field(&m)) / (1 << 20)
}

// Channel polls one probe while in use.
type Channel struct {
	*datasource.MultiplexedChannelHandler[bool, any]

	probe    probe
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// Connect publishes the current value and starts polling.
func (c *Channel) Connect() error {
	c.ProcessConnection(true)
	c.ProcessMessage(c.probe())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.poll(c.stop)
	return nil
}

func (c *Channel) poll(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ProcessMessage(c.probe())
		case <-stop:
			return
		}
	}
}

// Disconnect stops polling.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
	return nil
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(connected bool) bool { return connected }

// Config configures a Source.
type Config struct {
	datasource.Config

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Config: datasource.DefaultConfig(Name), PollInterval: DefaultPollInterval}
}

// Source is the process information data source.
type Source struct {
	*datasource.Base
	opts     datasource.HandlerOptions
	interval time.Duration
}

// New creates a process information data source.
func New(config Config) *Source {
	if config.Name == "" {
		config.Name = Name
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	s := &Source{
		opts: datasource.HandlerOptions{
			DataSource: config.Name,
			Logger:     config.Logger,
			EventLog:   config.EventLog,
			Metrics:    config.Metrics,
		},
		interval: config.PollInterval,
	}
	s.Base = datasource.NewBase(s, config.Config)
	return s
}

// Provider returns a provider creating process information data sources.
func Provider(config Config) datasource.Provider {
	name := config.Name
	if name == "" {
		name = Name
	}
	return datasource.ProviderFunc(name, func() (datasource.DataSource, error) {
		return New(config), nil
	})
}

// CreateChannel implements datasource.ChannelFactory.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	p, ok := probes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", datasource.ErrChannelNotFound, name)
	}
	c := &Channel{probe: p, interval: s.interval}
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](name, c, s.opts)
	return c, nil
}
