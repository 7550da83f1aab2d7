package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/utkarsh5026/pararun/internal/types"
)

var (
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
	ErrUnknownModel       = errors.New("unknown execution model")
	ErrNotStarted         = errors.New("strategy not started")
)

// SchedulingStrategy is the suspension primitive the engine is parameterized by.
// It owns the workers and the bounded channel between the producer and them.
//
// Submit and Drain are called from the single producing goroutine. Every submitted
// item is reported to the completion handler exactly once; Drain returns once all
// of them have been reported and the workers are gone.
type SchedulingStrategy[T any, R any] interface {
	// Start provisions the workers.
	Start(ctx context.Context, fn types.ProcessFunc[T, R], handler types.CompletionHandler[T, R]) error

	// Submit admits one item, suspending the caller while the bounded channel is full.
	// An error means the item was not admitted and will never reach the handler.
	Submit(ctx context.Context, id int64, item T) error

	// Drain waits for every admitted item to complete and tears the workers down.
	Drain() error

	// Pending returns the number of admitted items not yet reported.
	Pending() int
}

// CreateSchedulingStrategy returns the strategy for conf.Model.
func CreateSchedulingStrategy[T, R any](conf *ProcessorConfig[T, R]) (SchedulingStrategy[T, R], error) {
	if conf.WorkerCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, conf.WorkerCount)
	}

	switch conf.Model {
	case ModelParallel:
		return newParallelStrategy(conf), nil
	case ModelCooperative:
		return newCooperativeStrategy(conf), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, conf.Model)
	}
}
