package pararun

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/progress"
	"github.com/utkarsh5026/pararun/internal/scheduler"
	"github.com/utkarsh5026/pararun/internal/types"
)

var (
	ErrInvalidWorkerCount = scheduler.ErrInvalidWorkerCount
	ErrSourcePanic        = scheduler.ErrSourcePanic
	ErrUnknownBackend     = errors.New("unknown backend")
	ErrNilFunc            = errors.New("nil process function")
	ErrNilSource          = errors.New("nil source")
	ErrHookType           = errors.New("hook type mismatch")
)

// ProcessFunc is the function applied to every admitted item. A returned error
// marks the item as failed for this run only.
type ProcessFunc[T any, R any] = types.ProcessFunc[T, R]

// FuncKind declares how a ProcessFunc behaves under cancellation.
type FuncKind = types.FuncKind

const (
	KindCooperative = types.KindCooperative
	KindBlocking    = types.KindBlocking
)

// Summary accounts for every item a run pulled from its source.
type Summary = scheduler.Summary

// Cache is the result store a run consults and extends. See WithCache.
type Cache = cache.Cache

// Observer receives progress updates. See WithObserver.
type Observer = progress.Observer

// MetricsRecorder receives item and cache events. See WithMetrics.
type MetricsRecorder = metrics.Recorder

// NewPrometheusMetrics registers the run collectors under the "pararun" namespace
// on reg, or on the default registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) MetricsRecorder {
	return metrics.NewPrometheus(metrics.Config{Namespace: "pararun", Registry: reg})
}

// Source is a sequence of items. It is iterated once, on a single goroutine.
type Source[T any] = iter.Seq[T]

// FromSlice returns a Source over s.
func FromSlice[T any](s []T) Source[T] {
	return slices.Values(s)
}

// FromChan returns a Source that yields values from ch until it is closed.
func FromChan[T any](ch <-chan T) Source[T] {
	return func(yield func(T) bool) {
		for v := range ch {
			if !yield(v) {
				return
			}
		}
	}
}

// FromChanContext is FromChan that also ends when ctx is done, so a cancelled run
// does not stay blocked on an idle channel.
func FromChanContext[T any](ctx context.Context, ch <-chan T) Source[T] {
	return func(yield func(T) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok || !yield(v) {
					return
				}
			}
		}
	}
}

// Backend selects the worker provisioning of Map.
type Backend int

const (
	// BackendProcess locks every worker to its own OS thread pinned to a CPU core.
	BackendProcess Backend = iota

	// BackendThread runs workers as plain goroutines.
	BackendThread
)

func (b Backend) String() string {
	switch b {
	case BackendProcess:
		return "process"
	case BackendThread:
		return "thread"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend parses "process" or "thread".
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "process":
		return BackendProcess, nil
	case "thread":
		return BackendThread, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// ParseFuncKind parses "cooperative" or "blocking".
func ParseFuncKind(s string) (FuncKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cooperative":
		return KindCooperative, nil
	case "blocking":
		return KindBlocking, nil
	default:
		return 0, fmt.Errorf("unknown function kind %q", s)
	}
}
