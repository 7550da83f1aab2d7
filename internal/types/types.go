package types

import (
	"context"
	"fmt"
	"time"
)

// ProcessFunc is the user function applied to every admitted item.
// It takes a context for cancellation control and an item of type T, returning a result of type R.
// A non-nil error marks the item as failed for this run; it stays unprocessed and
// is picked up again by the next run against the same cache.
//
// Type parameters:
//   - T: The type of input item
//   - R: The type of result produced for the item
type ProcessFunc[T any, R any] func(ctx context.Context, item T) (R, error)

// FuncKind declares how a ProcessFunc behaves with respect to cancellation.
// The engine never guesses this; the caller states it as part of configuration.
type FuncKind int

const (
	// KindCooperative functions observe ctx and return promptly once it is done.
	KindCooperative FuncKind = iota

	// KindBlocking functions may ignore ctx. Each call is guarded so that a worker
	// can stop waiting for it when the run is cancelled.
	KindBlocking
)

func (k FuncKind) String() string {
	switch k {
	case KindCooperative:
		return "cooperative"
	case KindBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("FuncKind(%d)", int(k))
	}
}

// Result is the outcome of one admitted item, reported by a worker back to the engine.
//
// Fields:
//   - Item: The item as it was admitted
//   - Value: The value returned by the user function (only valid if Err is nil)
//   - Err: Failure of the invocation, a recovered panic, or the run's cancellation
//   - ID: Admission sequence number, unique within one run
//   - Elapsed: Wall time spent inside the user function
type Result[T any, R any] struct {
	Item    T
	Value   R
	Err     error
	ID      int64
	Elapsed time.Duration
}

// NewResult builds a Result for the item admitted under id.
func NewResult[T, R any](id int64, item T, value R, err error, elapsed time.Duration) *Result[T, R] {
	return &Result[T, R]{
		Item:    item,
		Value:   value,
		Err:     err,
		ID:      id,
		Elapsed: elapsed,
	}
}

// CompletionHandler receives every Result exactly once.
type CompletionHandler[T any, R any] func(r *Result[T, R])

// Envelope is the unit carried on a work queue: either Work(item) or Stop.
// Stop is structurally distinct from any item, so a zero-valued T is a valid item.
type Envelope[T any] struct {
	item T
	id   int64
	stop bool
}

// Work wraps an admitted item.
func Work[T any](id int64, item T) Envelope[T] {
	return Envelope[T]{item: item, id: id}
}

// Stop returns the signal telling one worker to exit.
func Stop[T any]() Envelope[T] {
	return Envelope[T]{stop: true}
}

// IsStop reports whether e is a stop signal.
func (e Envelope[T]) IsStop() bool { return e.stop }

// Item returns the wrapped item. It is the zero value for a stop signal.
func (e Envelope[T]) Item() T { return e.item }

// ID returns the admission sequence number of the wrapped item.
func (e Envelope[T]) ID() int64 { return e.id }

// PanicError is returned in place of a result when the user function panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v\nstack trace:\n%s", p.Value, p.Stack)
}
