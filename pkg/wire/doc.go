// Package wire defines the CBOR messages exchanged between a remote data
// source and a chanmux server.
//
// Every message is one CBOR map with integer keys. A client subscribes to a
// channel under a subscription ID it chooses; the server answers with
// connection, update and error messages carrying the same ID. Writes carry a
// message ID that the matching write result repeats.
//
//	client                          server
//	  | SUBSCRIBE(sub, channel) ------> |
//	  | <------ CONNECTION(sub, c, wc)  |
//	  | <------ UPDATE(sub, value)      |
//	  | WRITE(id, sub, value) --------> |
//	  | <------ WRITE_RESULT(id, err)   |
//	  | UNSUBSCRIBE(sub) -------------> |
package wire
