package pararun

import (
	"io"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/metrics"
	"github.com/utkarsh5026/pararun/internal/progress"
)

// DefaultConcurrentWorkers is the worker count of ConcurrentMap when none is set.
const DefaultConcurrentWorkers = 10

// Option is a functional option for configuring a run.
type Option func(*config)

type config struct {
	workerCount    int
	backend        Backend
	cachePath      string
	pebbleDir      string
	cache          cache.Cache
	keyField       string
	flushThreshold int
	total          int64
	funcKind       FuncKind
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
	metrics        metrics.Recorder
	observer       progress.Observer
	barWriter      io.Writer
	barDescription string

	beforeItem     func(any)
	beforeItemType reflect.Type

	onItemEnd           func(any, any, error)
	onItemEndItemType   reflect.Type
	onItemEndResultType reflect.Type
}

func newConfig(opts []Option) *config {
	cfg := &config{
		keyField:       "id",
		flushThreshold: cache.DefaultFlushThreshold,
		total:          -1,
		funcKind:       KindCooperative,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithWorkerCount sets the number of concurrent workers.
// If not specified, defaults to runtime.GOMAXPROCS(0) for Map and
// DefaultConcurrentWorkers for ConcurrentMap.
func WithWorkerCount(count int) Option {
	return func(cfg *config) {
		if count > 0 {
			cfg.workerCount = count
		}
	}
}

// WithBackend selects how Map provisions its workers. Unknown values are ignored.
func WithBackend(b Backend) Option {
	return func(cfg *config) {
		if b == BackendProcess || b == BackendThread {
			cfg.backend = b
		}
	}
}

// WithCachePath persists results to a newline-delimited JSON file at path.
func WithCachePath(path string) Option {
	return func(cfg *config) {
		if path != "" {
			cfg.cachePath = path
			cfg.pebbleDir = ""
			cfg.cache = nil
		}
	}
}

// WithPebbleCache persists results to a pebble database in dir.
func WithPebbleCache(dir string) Option {
	return func(cfg *config) {
		if dir != "" {
			cfg.pebbleDir = dir
			cfg.cachePath = ""
			cfg.cache = nil
		}
	}
}

// WithCache uses c as the result store. The caller keeps ownership: the run
// flushes c but does not close it. WithKeyField and WithFlushThreshold do not
// apply to a cache supplied this way.
func WithCache(c cache.Cache) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.cache = c
			cfg.cachePath = ""
			cfg.pebbleDir = ""
		}
	}
}

// WithKeyField sets the record field holding the key (default "id").
func WithKeyField(field string) Option {
	return func(cfg *config) {
		if field != "" {
			cfg.keyField = field
		}
	}
}

// WithFlushThreshold sets how many buffered results trigger a flush (default 1000).
// Lower values shrink the window of results lost on a crash at the cost of throughput.
func WithFlushThreshold(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.flushThreshold = n
		}
	}
}

// WithTotal sets the expected number of items for progress reporting.
// Items skipped as already done are subtracted from it.
func WithTotal(n int64) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.total = n
		}
	}
}

// WithFuncKind declares how the function behaves under cancellation (ConcurrentMap only).
func WithFuncKind(k FuncKind) Option {
	return func(cfg *config) {
		if k == KindCooperative || k == KindBlocking {
			cfg.funcKind = k
		}
	}
}

// WithRateLimit sets a rate limiter for controlling invocation throughput.
// perSecond specifies the maximum number of invocations per second.
// burst specifies the maximum number of invocations that can happen in a burst.
// If not specified, no rate limiting is applied.
//
// Example:
//
//	WithRateLimit(10, 5) // Allow 10 calls/sec with burst of 5
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cfg *config) {
		if perSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithBeforeItem registers a hook called before each invocation. T must match the
// item type of the run it is passed to, otherwise the run fails with ErrHookType.
func WithBeforeItem[T any](fn func(item T)) Option {
	return func(cfg *config) {
		if fn == nil {
			return
		}
		cfg.beforeItem = func(item any) { fn(as[T](item)) }
		cfg.beforeItemType = reflect.TypeFor[T]()
	}
}

// WithOnItemEnd registers a hook called after each invocation with its outcome.
// T and R must match the run's item and result types.
func WithOnItemEnd[T, R any](fn func(item T, result R, err error)) Option {
	return func(cfg *config) {
		if fn == nil {
			return
		}
		cfg.onItemEnd = func(item, result any, err error) { fn(as[T](item), as[R](result), err) }
		cfg.onItemEndItemType = reflect.TypeFor[T]()
		cfg.onItemEndResultType = reflect.TypeFor[R]()
	}
}

// WithLogger sets the structured logger. Defaults to a production zap logger on stderr.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder, e.g. a metrics.Prometheus.
func WithMetrics(r metrics.Recorder) Option {
	return func(cfg *config) {
		if r != nil {
			cfg.metrics = r
		}
	}
}

// WithObserver sets the progress observer.
func WithObserver(o progress.Observer) Option {
	return func(cfg *config) {
		if o != nil {
			cfg.observer = o
			cfg.barWriter = nil
		}
	}
}

// WithProgressBar renders a progress bar to w.
func WithProgressBar(w io.Writer, description string) Option {
	return func(cfg *config) {
		if w != nil {
			cfg.barWriter = w
			cfg.barDescription = description
			cfg.observer = nil
		}
	}
}

// as converts v to T, mapping a nil interface to T's zero value.
func as[T any](v any) T {
	t, _ := v.(T)
	return t
}
