package datasource

import (
	"github.com/chanmux/chanmux-go/pkg/collector"
)

// ChannelHandler owns the backend connection of one channel and shares it
// between readers and writers.
type ChannelHandler interface {
	ChannelName() string

	AddReader(c collector.ReadCollector)
	RemoveReader(c collector.ReadCollector)
	AddWriter(c collector.WriteCollector)
	RemoveWriter(c collector.WriteCollector)

	// UsageCounter returns readers plus writers.
	UsageCounter() int
	ReadUsageCounter() int
	WriteUsageCounter() int

	IsConnected() bool
	IsWriteConnected() bool

	// Properties returns a diagnostic snapshot of the handler state.
	Properties() map[string]any
}

// ChannelConnector is implemented by backend channels embedding a
// MultiplexedChannelHandler. Connect is called on the first attach and
// Disconnect on the last detach, never concurrently.
type ChannelConnector interface {
	Connect() error
	Disconnect() error
}

// ConnectionChecker computes the read connection flag from the connection
// payload. Without it a channel is connected while it is in use.
type ConnectionChecker[C any] interface {
	CheckConnected(payload C) bool
}

// WriteConnectionChecker computes the write connection flag. Without it a
// channel is never write connected.
type WriteConnectionChecker[C any] interface {
	CheckWriteConnected(payload C) bool
}

// ChannelWriter sends a value to the backend and reports the outcome through
// done. Channels without it are read-only.
type ChannelWriter interface {
	WriteValue(value any, done func(error))
}

// TypeAdapterFinder overrides the type adapter lookup of a channel.
type TypeAdapterFinder[C, M any] interface {
	FindTypeAdapter(c collector.ReadCollector, conn C) (TypeAdapter[C, M], error)
}

// ParameterSubscriber receives the non-nil subscription parameter of the
// type adapter resolved for each reader, for backends that subscribe per
// requested representation.
type ParameterSubscriber interface {
	SubscribeParameter(param any)
}
