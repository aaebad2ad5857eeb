package datasource

import (
	"fmt"
	"reflect"

	"github.com/chanmux/chanmux-go/pkg/collector"
)

// TypeAdapter converts backend messages of type M, received on a connection
// described by C, into the value type of a collector.
type TypeAdapter[C, M any] interface {
	// Match scores how well the adapter fits the collector. Zero means no
	// match; higher scores win.
	Match(c collector.ReadCollector, conn C) int

	// SubscriptionParameter derives backend specific parameters for the
	// subscription, or nil.
	SubscriptionParameter(c collector.ReadCollector, conn C) any

	// UpdateCollector stores msg in c. It reports whether the collector was
	// updated.
	UpdateCollector(c collector.ReadCollector, conn C, msg M) (bool, error)
}

// FindTypeAdapter returns the single highest scoring adapter for c.
func FindTypeAdapter[C, M any](adapters []TypeAdapter[C, M], c collector.ReadCollector, conn C) (TypeAdapter[C, M], error) {
	var best TypeAdapter[C, M]
	bestScore, ties := 0, 0
	for _, a := range adapters {
		score := a.Match(c, conn)
		switch {
		case score <= 0:
		case score > bestScore:
			best, bestScore, ties = a, score, 1
		case score == bestScore:
			ties++
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoTypeAdapter, c.ValueType())
	}
	if ties > 1 {
		return nil, fmt.Errorf("%w: %d adapters for %s", ErrAmbiguousTypeAdapter, ties, c.ValueType())
	}
	return best, nil
}

// DirectTypeAdapter stores messages as they are. It matches collectors whose
// declared type accepts M, and every collector when M is an interface type.
type DirectTypeAdapter[C, M any] struct{}

// Match implements TypeAdapter.
func (DirectTypeAdapter[C, M]) Match(c collector.ReadCollector, _ C) int {
	mt := reflect.TypeFor[M]()
	if mt.Kind() == reflect.Interface || collector.Accepts(c.ValueType(), mt) {
		return 1
	}
	return 0
}

// SubscriptionParameter implements TypeAdapter.
func (DirectTypeAdapter[C, M]) SubscriptionParameter(collector.ReadCollector, C) any {
	return nil
}

// UpdateCollector implements TypeAdapter.
func (DirectTypeAdapter[C, M]) UpdateCollector(c collector.ReadCollector, _ C, msg M) (bool, error) {
	if err := c.UpdateValue(msg); err != nil {
		return false, err
	}
	return true, nil
}

// ConvertTypeAdapter matches collectors declared exactly as Target and
// converts each message with Convert. It outranks DirectTypeAdapter.
type ConvertTypeAdapter[C, M any] struct {
	Target  reflect.Type
	Convert func(conn C, msg M) (any, error)
}

// Match implements TypeAdapter.
func (a ConvertTypeAdapter[C, M]) Match(c collector.ReadCollector, _ C) int {
	if c.ValueType() == a.Target {
		return 2
	}
	return 0
}

// SubscriptionParameter implements TypeAdapter.
func (a ConvertTypeAdapter[C, M]) SubscriptionParameter(collector.ReadCollector, C) any {
	return nil
}

// UpdateCollector implements TypeAdapter.
func (a ConvertTypeAdapter[C, M]) UpdateCollector(c collector.ReadCollector, conn C, msg M) (bool, error) {
	v, err := a.Convert(conn, msg)
	if err != nil {
		return false, err
	}
	if err := c.UpdateValue(v); err != nil {
		return false, err
	}
	return true, nil
}
