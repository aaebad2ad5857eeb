// Package pv provides the handles callers hold to read and write channels.
//
// Read builds a Reader from an expression tree. Every Reader has a director
// that registers the expression's collectors, evaluates the expression when
// the rate decoupler asks for a value, aggregates the connection state of
// all collectors and hands the result to the notification executor. At most
// one notification per Reader is in flight at any time.
//
// A Reader must be closed. A Reader that becomes unreachable without Close
// is detected, closed, and reported together with the stack of its
// creation.
package pv
