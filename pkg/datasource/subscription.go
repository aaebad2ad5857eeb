package datasource

import (
	"github.com/chanmux/chanmux-go/pkg/collector"
)

// ReadSubscription pairs a channel name with the collector that receives its
// values.
type ReadSubscription struct {
	Channel   string
	Collector collector.ReadCollector
}

// WriteSubscription pairs a channel name with the collector that sends
// values to it.
type WriteSubscription struct {
	Channel   string
	Collector collector.WriteCollector
}

// DataSource is the subscription surface of one backend, or of several
// backends behind a Composite.
//
// Start and stop calls return immediately; the work happens asynchronously.
// Failures are reported through the subscription's collector.
type DataSource interface {
	StartRead(sub ReadSubscription)
	StopRead(sub ReadSubscription)
	StartWrite(sub WriteSubscription)
	StopWrite(sub WriteSubscription)

	// Channels returns a snapshot of the cached channel handlers by name.
	Channels() map[string]ChannelHandler

	// Close releases every channel and stops the worker.
	Close() error
}

// Provider creates DataSource instances for one backend name.
type Provider interface {
	Name() string
	CreateInstance() (DataSource, error)
}

type providerFunc struct {
	name string
	fn   func() (DataSource, error)
}

func (p providerFunc) Name() string                        { return p.name }
func (p providerFunc) CreateInstance() (DataSource, error) { return p.fn() }

// ProviderFunc returns a Provider named name that calls fn.
func ProviderFunc(name string, fn func() (DataSource, error)) Provider {
	return providerFunc{name: name, fn: fn}
}
