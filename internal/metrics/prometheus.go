package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder using Prometheus collectors.
type Prometheus struct {
	itemsAdmitted  prometheus.Counter
	itemsSkipped   prometheus.Counter
	itemsSucceeded prometheus.Counter
	itemsFailed    *prometheus.CounterVec
	itemsInFlight  prometheus.Gauge
	itemDuration   prometheus.Histogram

	cacheLoadedKeys     prometheus.Gauge
	cacheMalformedLines prometheus.Counter
	cacheFlushes        prometheus.Counter
	cacheFlushedRecords prometheus.Counter
	cacheFlushFailures  prometheus.Counter
	cacheFlushDuration  prometheus.Histogram
}

var _ Recorder = (*Prometheus)(nil)

// Config holds configuration for Prometheus.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "pararun")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "pararun",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// NewPrometheus creates a Prometheus recorder and registers its collectors.
// It panics if a collector with the same name is already registered, like promauto.
func NewPrometheus(cfg Config) *Prometheus {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Prometheus{
		itemsAdmitted:  counter("items_admitted_total", "Total number of items admitted for execution"),
		itemsSkipped:   counter("items_skipped_total", "Total number of items skipped because their key was already cached"),
		itemsSucceeded: counter("items_succeeded_total", "Total number of items whose result was accepted by the cache"),
		itemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "items_failed_total",
			Help:      "Total number of items that failed and stay unprocessed",
		}, []string{"reason"}),
		itemsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "items_in_flight",
			Help:      "Number of user function invocations currently running",
		}),
		itemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "item_duration_seconds",
			Help:      "User function duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}),

		cacheLoadedKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_loaded_keys",
			Help:      "Number of keys found in the cache when the run started",
		}),
		cacheMalformedLines: counter("cache_malformed_lines_total", "Total number of cache lines skipped while loading"),
		cacheFlushes:        counter("cache_flushes_total", "Total number of successful cache flushes"),
		cacheFlushedRecords: counter("cache_flushed_records_total", "Total number of records made durable"),
		cacheFlushFailures:  counter("cache_flush_failures_total", "Total number of failed cache flushes"),
		cacheFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_flush_duration_seconds",
			Help:      "Cache flush duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

func (p *Prometheus) ItemAdmitted() { p.itemsAdmitted.Inc() }

func (p *Prometheus) ItemSkipped() { p.itemsSkipped.Inc() }

func (p *Prometheus) ItemStarted() { p.itemsInFlight.Inc() }

func (p *Prometheus) ItemFinished(d time.Duration) {
	p.itemsInFlight.Dec()
	p.itemDuration.Observe(d.Seconds())
}

func (p *Prometheus) ItemSucceeded() { p.itemsSucceeded.Inc() }

func (p *Prometheus) ItemFailed(reason string) { p.itemsFailed.WithLabelValues(reason).Inc() }

func (p *Prometheus) CacheLoaded(keys int, malformed int) {
	p.cacheLoadedKeys.Set(float64(keys))
	p.cacheMalformedLines.Add(float64(malformed))
}

func (p *Prometheus) CacheFlushed(records int, d time.Duration) {
	p.cacheFlushes.Inc()
	p.cacheFlushedRecords.Add(float64(records))
	p.cacheFlushDuration.Observe(d.Seconds())
}

func (p *Prometheus) CacheFlushFailed() { p.cacheFlushFailures.Inc() }
