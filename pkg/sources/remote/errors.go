package remote

import (
	"errors"
	"fmt"

	"github.com/chanmux/chanmux-go/pkg/collector"
	"github.com/chanmux/chanmux-go/pkg/datasource"
	"github.com/chanmux/chanmux-go/pkg/wire"
)

var (
	// ErrConnectionLost fails writes in flight when the connection drops.
	ErrConnectionLost = errors.New("connection to server lost")

	// ErrWriteTimeout fails a write the server did not answer in time.
	ErrWriteTimeout = errors.New("write timed out")

	// ErrInvalidRequest is reported by the server for a malformed request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrServer wraps server errors without a more specific meaning.
	ErrServer = errors.New("server error")

	// ErrNoAddress is returned by New without an address.
	ErrNoAddress = errors.New("no server address configured")
)

// codeFor classifies err for the wire.
func codeFor(err error) wire.ErrorCode {
	switch {
	case err == nil:
		return wire.ErrorCodeNone
	case errors.Is(err, datasource.ErrChannelNotFound),
		errors.Is(err, datasource.ErrUnknownDataSource),
		errors.Is(err, datasource.ErrNoDefaultDataSource),
		errors.Is(err, datasource.ErrMalformedChannelName):
		return wire.ErrorCodeNotFound
	case errors.Is(err, datasource.ErrReadOnly):
		return wire.ErrorCodeReadOnly
	case errors.Is(err, datasource.ErrNotWriteConnected),
		errors.Is(err, collector.ErrNotWritable):
		return wire.ErrorCodeNotWriteConnected
	case errors.Is(err, collector.ErrTypeMismatch),
		errors.Is(err, datasource.ErrNoTypeAdapter),
		errors.Is(err, datasource.ErrAmbiguousTypeAdapter):
		return wire.ErrorCodeTypeMismatch
	case errors.Is(err, ErrInvalidRequest):
		return wire.ErrorCodeInvalidRequest
	default:
		return wire.ErrorCodeInternal
	}
}

// errorFor rebuilds an error received from the server so errors.Is matches
// the same sentinels as for a local channel.
func errorFor(code wire.ErrorCode, msg string) error {
	var sentinel error
	switch code {
	case wire.ErrorCodeNone:
		if msg == "" {
			return nil
		}
		sentinel = ErrServer
	case wire.ErrorCodeNotFound:
		sentinel = datasource.ErrChannelNotFound
	case wire.ErrorCodeReadOnly:
		sentinel = datasource.ErrReadOnly
	case wire.ErrorCodeNotWriteConnected:
		sentinel = datasource.ErrNotWriteConnected
	case wire.ErrorCodeTypeMismatch:
		sentinel = collector.ErrTypeMismatch
	case wire.ErrorCodeInvalidRequest:
		sentinel = ErrInvalidRequest
	default:
		sentinel = ErrServer
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// isWriteCode reports whether code concerns writers only.
func isWriteCode(code wire.ErrorCode) bool {
	return code == wire.ErrorCodeReadOnly || code == wire.ErrorCodeNotWriteConnected
}
