// Package connection keeps a client connection alive.
//
// A Manager repeatedly calls a ConnectFunc until it succeeds, waiting between
// attempts with exponential backoff:
//
//	delay = min(Initial * Multiplier^attempt, Max) + random(0, delay * Jitter)
//
// The defaults are 500ms doubling up to 30s with 25% jitter. When the owner
// reports the connection lost, the manager starts over with the initial
// delay.
package connection
