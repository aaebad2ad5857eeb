// Package remote connects data sources across processes.
//
// Source is a data source whose channels live on a chanmux server. All
// channels of one Source share a single connection, TCP or WebSocket,
// chosen by the address scheme:
//
//	host:port, tcp://host:port   length-prefixed CBOR frames
//	ws://host/path, wss://...    one CBOR message per binary WebSocket message
//	mdns://instance              resolved with DNS-SD before every attempt
//
// While the server is unreachable every channel reports disconnected. The
// connection is retried with exponential backoff and, once it is back, every
// channel in use is subscribed again.
//
// Server is the other end: it serves any datasource.DataSource to remote
// clients by subscribing on their behalf.
package remote
