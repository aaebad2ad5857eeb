// Package datasource connects collectors to backend channels.
//
// A ChannelHandler owns one backend connection for one channel name and
// shares it between any number of readers and writers. The
// MultiplexedChannelHandler does the bookkeeping: usage counting, exactly
// once connect and disconnect, per-reader type adaptation and late-joiner
// replay. Backends embed it and supply a ChannelConnector.
//
// A DataSource caches the handlers of one backend and performs every
// subscription change on a single worker goroutine, in submission order.
// Base implements DataSource on top of a ChannelFactory. Composite routes
// "backend://channel" names to lazily created child data sources.
//
// Errors never escape the pipeline: they are routed to the collector of the
// subscription that caused them.
package datasource
