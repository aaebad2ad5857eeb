package datasource

import (
	"errors"
	"fmt"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/metrics"
)

// Routing errors.
var (
	// ErrUnknownDataSource is returned for a backend prefix with no provider.
	ErrUnknownDataSource = errors.New("unknown data source")

	// ErrNoDefaultDataSource is returned for an unprefixed channel name when
	// no default data source is configured.
	ErrNoDefaultDataSource = errors.New("no default data source configured")

	// ErrMalformedChannelName is returned for a name with an empty backend or
	// an empty channel after the delimiter.
	ErrMalformedChannelName = errors.New("malformed channel name")
)

// Channel errors.
var (
	// ErrChannelNotFound is returned when a backend cannot create a channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrReadOnly is delivered to a writer attached to a read-only channel.
	ErrReadOnly = errors.New("channel is read-only")

	// ErrNotWriteConnected fails a write request while the channel cannot
	// accept writes.
	ErrNotWriteConnected = errors.New("channel not write connected")

	// ErrNoTypeAdapter is returned when no adapter matches a collector.
	ErrNoTypeAdapter = errors.New("no type adapter")

	// ErrAmbiguousTypeAdapter is returned when several adapters match a
	// collector with the same score.
	ErrAmbiguousTypeAdapter = errors.New("ambiguous type adapter")

	// ErrConnect wraps a failure of the backend connect call.
	ErrConnect = errors.New("connect failed")

	// ErrClosed is returned for subscriptions made after Close.
	ErrClosed = errors.New("data source closed")

	// ErrInvalidConfig is returned for an unreadable configuration document.
	ErrInvalidConfig = errors.New("invalid data source configuration")
)

// ChannelError carries the data source and channel an error was raised for.
type ChannelError struct {
	DataSource string
	Channel    string
	Err        error
}

func (e *ChannelError) Error() string {
	if e.DataSource == "" {
		return fmt.Sprintf("channel %q: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s channel %q: %v", e.DataSource, e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err into a metrics kind label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDataSource),
		errors.Is(err, ErrNoDefaultDataSource),
		errors.Is(err, ErrMalformedChannelName),
		errors.Is(err, ErrChannelNotFound):
		return metrics.KindRouting
	case errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrNotWriteConnected),
		errors.Is(err, collector.ErrNotWritable):
		return metrics.KindCapability
	case errors.Is(err, collector.ErrTypeMismatch),
		errors.Is(err, ErrNoTypeAdapter),
		errors.Is(err, ErrAmbiguousTypeAdapter):
		return metrics.KindType
	case errors.Is(err, ErrConnect):
		return metrics.KindConnect
	default:
		return metrics.KindInternal
	}
}
