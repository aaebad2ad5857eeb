// Package transport carries chanmux messages between a remote data source
// and a server.
//
// Two carriers are supported:
//
//   - TCP, with every message prefixed by its length as a 4-byte big-endian
//     integer
//   - WebSocket, with every message sent as one binary WebSocket message
//
// Both are exposed as a Conn that sends and receives whole messages. The
// transport does not interpret messages; ping/pong keep-alive runs above it
// through KeepAlive.
package transport
