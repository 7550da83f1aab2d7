package scheduler

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/progress"
	"github.com/utkarsh5026/pararun/internal/types"
)

// ExecutionModel selects how admitted items are executed.
type ExecutionModel int

const (
	// ModelParallel runs items on a fixed pool of workers; the orchestrating
	// goroutine blocks for the first completion whenever the pending set is full.
	ModelParallel ExecutionModel = iota

	// ModelCooperative feeds a bounded queue of Work|Stop envelopes to worker
	// goroutines; the producer suspends on a full queue.
	ModelCooperative
)

func (m ExecutionModel) String() string {
	switch m {
	case ModelParallel:
		return "parallel"
	case ModelCooperative:
		return "cooperative"
	default:
		return fmt.Sprintf("ExecutionModel(%d)", int(m))
	}
}

// ProcessorConfig holds all configuration for one engine: the worker pool, the
// execution model, the per-item hooks and the collaborators the engine reports to.
type ProcessorConfig[T, R any] struct {
	// Number of workers, i.e. the maximum number of concurrent invocations.
	WorkerCount int

	// Execution model used to schedule admitted items.
	Model ExecutionModel

	// Lock every parallel worker to its own OS thread pinned to a CPU core.
	Pinned bool

	// How the user function behaves under cancellation (cooperative model only).
	Kind types.FuncKind

	// Optional token bucket rate limiter applied before every invocation (may be nil).
	RateLimiter *rate.Limiter

	// Hook called before an item's invocation.
	BeforeItem func(T)

	// Hook called after an item's invocation (receives the item, result, and error if any).
	OnItemEnd func(T, R, error)

	// Durable store gating admission and persisting results. Nil means no cache.
	Cache cache.Cache

	// Progress observer. Nil means none.
	Observer progress.Observer

	// Expected number of items, or a negative value when unknown.
	Total int64

	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// Capacity is the bound on admitted-but-unfinished items.
func (c *ProcessorConfig[T, R]) Capacity() int {
	return 2 * c.WorkerCount
}

func (c *ProcessorConfig[T, R]) withDefaults() *ProcessorConfig[T, R] {
	conf := *c
	if conf.Cache == nil {
		conf.Cache = cache.Nop{}
	}
	if conf.Observer == nil {
		conf.Observer = progress.Noop{}
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.Noop{}
	}
	return &conf
}
