package pv

import (
	"errors"
	"reflect"
	"time"
)

var (
	// ErrTimeout matches the error delivered when no connection was made
	// within ReadConfig.Timeout.
	ErrTimeout = errors.New("read timeout")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("handle closed")

	// ErrNilDataSource is returned when Read or Write get no data source.
	ErrNilDataSource = errors.New("nil data source")

	// ErrNilExpression is returned when Read gets no expression.
	ErrNilExpression = errors.New("nil expression")
)

// TimeoutError is delivered when a reader is still unconnected after its
// timeout.
type TimeoutError struct {
	Message string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return e.Message
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// sameError reports whether a and b have the same dynamic type and message.
func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) && a.Error() == b.Error()
}
