// Package log provides structured event logging for chanmux.
//
// This package defines the Logger interface and Event types for capturing
// events at every layer of the subscription pipeline (transport, wire,
// channel, data source, PV). It is separate from operational logging (slog):
// the event log is a complete machine-readable trace for debugging and
// analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLog, _ = log.NewFileLogger("/var/log/chanmux/probe.clog")
//
//	// Both: use MultiLogger
//	cfg.EventLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame bytes (FrameEvent)
//   - Wire: Decoded remote protocol messages (MessageEvent)
//   - Channel / DataSource: subscription and connection changes
//     (SubscriptionEvent, StateChangeEvent)
//   - PV: reader and writer lifecycle (StateChangeEvent)
//
// Control messages (ping/pong/close) and errors have dedicated event types.
//
// # File Format
//
// Log files use CBOR encoding with .clog extension. The chanmux-log CLI tool
// provides viewing, statistics and export.
package log
