package datasource

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/metrics"
)

// Composite routes channel names of the form "backend<delimiter>channel" to
// child data sources, which are created on first use from their registered
// Provider. Names without the delimiter go to the default data source.
type Composite struct {
	mu        sync.Mutex
	config    CompositeConfig
	providers map[string]Provider
	sources   map[string]DataSource
	closed    bool

	logger  *slog.Logger
	metrics *metrics.Collector
}

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) CompositeOption {
	return func(c *Composite) { c.logger = l }
}

// WithMetrics sets the metrics collector used for routing errors.
func WithMetrics(m *metrics.Collector) CompositeOption {
	return func(c *Composite) { c.metrics = m }
}

// NewComposite creates an empty composite data source.
func NewComposite(config CompositeConfig, opts ...CompositeOption) *Composite {
	if config.Delimiter == "" {
		config.Delimiter = DefaultDelimiter
	}
	c := &Composite{
		config:    config,
		providers: make(map[string]Provider),
		sources:   make(map[string]DataSource),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutProvider registers p under p.Name(), replacing any previous provider of
// that name. Instances already created are kept.
func (c *Composite) PutProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.Name()] = p
}

// Providers returns the sorted names of the registered providers.
func (c *Composite) Providers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.providers))
}

// DataSourceNames returns the sorted names of the instantiated children.
func (c *Composite) DataSourceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.sources))
}

// Config returns the routing configuration.
func (c *Composite) Config() CompositeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// SetDefaultDataSource changes the backend used for unprefixed names.
func (c *Composite) SetDefaultDataSource(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.DefaultDataSource = name
}

// Route splits name into backend and channel name.
func (c *Composite) Route(name string) (backend, channel string, err error) {
	c.mu.Lock()
	config := c.config
	c.mu.Unlock()
	return config.Route(name)
}

// DataSource returns the child for backend, creating it if needed.
func (c *Composite) DataSource(backend string) (DataSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if ds, ok := c.sources[backend]; ok {
		return ds, nil
	}
	p, ok := c.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataSource, backend)
	}
	ds, err := p.CreateInstance()
	if err != nil {
		return nil, fmt.Errorf("create data source %q: %w", backend, err)
	}
	c.sources[backend] = ds
	c.logger.Debug("data source created", "datasource", backend)
	return ds, nil
}

func (c *Composite) resolve(name string) (DataSource, string, error) {
	backend, channel, err := c.Route(name)
	if err != nil {
		return nil, "", err
	}
	ds, err := c.DataSource(backend)
	if err != nil {
		return nil, "", err
	}
	return ds, channel, nil
}

func (c *Composite) routingError(name string, err error) error {
	c.metrics.Error(ErrorKind(err))
	c.logger.Debug("routing failed", "channel", name, "error", err)
	return &ChannelError{Channel: name, Err: err}
}

// StartRead routes sub to its child. Routing errors go to sub.Collector.
func (c *Composite) StartRead(sub ReadSubscription) {
	ds, channel, err := c.resolve(sub.Channel)
	if err != nil {
		sub.Collector.NotifyError(c.routingError(sub.Channel, err))
		return
	}
	ds.StartRead(ReadSubscription{Channel: channel, Collector: sub.Collector})
}

// StopRead routes sub to the child that received the start.
func (c *Composite) StopRead(sub ReadSubscription) {
	ds, channel, err := c.resolve(sub.Channel)
	if err != nil {
		c.logger.Debug("stop read not routed", "channel", sub.Channel, "error", err)
		return
	}
	ds.StopRead(ReadSubscription{Channel: channel, Collector: sub.Collector})
}

// StartWrite routes sub to its child. Routing errors go to sub.Collector.
func (c *Composite) StartWrite(sub WriteSubscription) {
	ds, channel, err := c.resolve(sub.Channel)
	if err != nil {
		sub.Collector.NotifyError(c.routingError(sub.Channel, err))
		return
	}
	ds.StartWrite(WriteSubscription{Channel: channel, Collector: sub.Collector})
}

// StopWrite routes sub to the child that received the start.
func (c *Composite) StopWrite(sub WriteSubscription) {
	ds, channel, err := c.resolve(sub.Channel)
	if err != nil {
		c.logger.Debug("stop write not routed", "channel", sub.Channel, "error", err)
		return
	}
	ds.StopWrite(WriteSubscription{Channel: channel, Collector: sub.Collector})
}

// Channels returns the handlers of every child, keyed by the prefixed name.
func (c *Composite) Channels() map[string]ChannelHandler {
	c.mu.Lock()
	sources := maps.Clone(c.sources)
	delim := c.config.Delimiter
	c.mu.Unlock()

	out := make(map[string]ChannelHandler)
	for backend, ds := range sources {
		for name, h := range ds.Channels() {
			out[backend+delim+name] = h
		}
	}
	return out
}

// Close closes every instantiated child. Later subscriptions fail with
// ErrClosed.
func (c *Composite) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sources := c.sources
	c.sources = make(map[string]DataSource)
	c.mu.Unlock()

	var errs []error
	for name, ds := range sources {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Route splits name according to the configuration.
func (cfg CompositeConfig) Route(name string) (backend, channel string, err error) {
	delim := cfg.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}

	idx := strings.Index(name, delim)
	if idx < 0 {
		if name == "" {
			return "", "", ErrMalformedChannelName
		}
		if cfg.DefaultDataSource == "" {
			return "", "", fmt.Errorf("%w for %q", ErrNoDefaultDataSource, name)
		}
		return cfg.DefaultDataSource, name, nil
	}

	backend, channel = name[:idx], name[idx+len(delim):]
	if backend == "" || channel == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedChannelName, name)
	}
	return backend, channel, nil
}

var _ DataSource = (*Composite)(nil)
