package collector

import (
	"fmt"
	"reflect"
)

// convert asserts v to T. A nil v is accepted for nillable T.
func convert[T any](v any) (T, error) {
	if tv, ok := v.(T); ok {
		return tv, nil
	}
	var zero T
	if v == nil {
		switch reflect.TypeFor[T]().Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return zero, nil
		}
	}
	return zero, fmt.Errorf("%w: %T is not assignable to %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
}

// Accepts reports whether a value of type vt can be stored in a collector
// declared with type target.
func Accepts(target, vt reflect.Type) bool {
	if target == nil || vt == nil {
		return false
	}
	return vt.AssignableTo(target)
}
