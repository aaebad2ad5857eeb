// Package collector provides the mailboxes that decouple backend threads
// from notification delivery.
//
// A data source pushes values, connection state and errors into a
// collector from whatever goroutine the backend runs on. The collector keeps
// the latest state under its own lock and reports each change as an Event to
// a single Listener, which is installed by the rate decoupler that currently
// owns the collector. The listener is always invoked after the lock has been
// released, so it may call back into the collector.
package collector
