package pararun

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/scheduler"
)

// Map applies fn to every item of src on a fixed pool of workers and persists each
// result to the configured cache. Items whose key is already in the cache are
// skipped. It returns once src is exhausted and every admitted item has completed.
//
// Per-item failures are logged and counted in the Summary; they never stop the run.
// The returned error reports invalid configuration, a cache that cannot be opened
// or loaded, ctx cancellation, and a failed final flush.
func Map[T, R any](ctx context.Context, fn ProcessFunc[T, R], src Source[T], opts ...Option) (Summary, error) {
	cfg := newConfig(opts)
	if cfg.workerCount == 0 {
		cfg.workerCount = runtime.GOMAXPROCS(0)
	}
	return run(ctx, scheduler.ModelParallel, fn, src, cfg)
}

// ConcurrentMap is Map for large numbers of concurrent, mostly waiting calls: a
// bounded queue is drained by worker goroutines, and the function is invoked as
// declared by WithFuncKind.
func ConcurrentMap[T, R any](ctx context.Context, fn ProcessFunc[T, R], src Source[T], opts ...Option) (Summary, error) {
	cfg := newConfig(opts)
	if cfg.workerCount == 0 {
		cfg.workerCount = DefaultConcurrentWorkers
	}
	return run(ctx, scheduler.ModelCooperative, fn, src, cfg)
}

func run[T, R any](ctx context.Context, model scheduler.ExecutionModel, fn ProcessFunc[T, R], src Source[T], cfg *config) (_ Summary, err error) {
	if fn == nil {
		return Summary{}, ErrNilFunc
	}
	if src == nil {
		return Summary{}, ErrNilSource
	}

	beforeItem, onItemEnd, err := checkHooks[T, R](cfg)
	if err != nil {
		return Summary{}, err
	}

	if cfg.logger == nil {
		cfg.logger = defaultLogger()
		defer func() { _ = cfg.logger.Sync() }()
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.Noop{}
	}

	c, closeCache, err := cfg.openCache()
	if err != nil {
		return Summary{}, fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if cerr := closeCache(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close cache: %w", cerr))
		}
	}()

	engine, err := scheduler.NewEngine(&scheduler.ProcessorConfig[T, R]{
		WorkerCount: cfg.workerCount,
		Model:       model,
		Pinned:      model == scheduler.ModelParallel && cfg.backend == BackendProcess,
		Kind:        cfg.funcKind,
		RateLimiter: cfg.rateLimiter,
		BeforeItem:  beforeItem,
		OnItemEnd:   onItemEnd,
		Cache:       c,
		Observer:    cfg.newObserver(),
		Total:       cfg.total,
		Logger:      cfg.logger,
		Metrics:     cfg.metrics,
	})
	if err != nil {
		return Summary{}, err
	}

	return engine.Run(ctx, src, fn)
}

func defaultLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
