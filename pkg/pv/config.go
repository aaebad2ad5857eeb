package pv

import (
	"log/slog"
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/chanmux/chanmux-go/pkg/scan"
)

// DefaultTimeoutMessage is delivered when ReadConfig.TimeoutMessage is
// empty.
const DefaultTimeoutMessage = "read timeout"

// ReadConfig configures a Reader.
type ReadConfig struct {
	// MaxRate is the minimum interval between two notifications.
	MaxRate time.Duration

	// Scan selects the rate decoupler.
	Scan scan.Mode

	// Timeout, when positive, delivers a TimeoutError if no connection was
	// made in time.
	Timeout time.Duration

	// TimeoutMessage is the message of the TimeoutError.
	TimeoutMessage string

	// Executor runs the listener. Defaults to GoExecutor.
	Executor Executor

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// EventLog receives handle events. Optional.
	EventLog log.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// DefaultReadConfig returns a passive decoupler at scan.DefaultMaxRate, no
// timeout and a GoExecutor.
func DefaultReadConfig() ReadConfig {
	return ReadConfig{
		MaxRate:  scan.DefaultMaxRate,
		Scan:     scan.ModePassive,
		Executor: GoExecutor{},
	}
}

func (c *ReadConfig) normalize() {
	if c.Executor == nil {
		c.Executor = GoExecutor{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TimeoutMessage == "" {
		c.TimeoutMessage = DefaultTimeoutMessage
	}
	c.EventLog = log.OrNoop(c.EventLog)
}

// WriteConfig configures a Writer.
type WriteConfig struct {
	// Executor runs the listener. Defaults to GoExecutor.
	Executor Executor

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// EventLog receives handle events. Optional.
	EventLog log.Logger
}

// DefaultWriteConfig returns the default writer configuration.
func DefaultWriteConfig() WriteConfig {
	return WriteConfig{Executor: GoExecutor{}}
}

func (c *WriteConfig) normalize() {
	if c.Executor == nil {
		c.Executor = GoExecutor{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.EventLog = log.OrNoop(c.EventLog)
}
