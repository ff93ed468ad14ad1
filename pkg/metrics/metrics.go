// Package metrics provides Prometheus instrumentation for Strata adapters,
// drivers and caches.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined metrics for persistence operations and cache traffic
//   - A per-component Collector that records outcomes and latencies
//   - Automatic metric registration through promauto
//
// # Basic Usage
//
//	collector := metrics.NewCollector("adapter")
//	timer := metrics.NewTimer("retrieve")
//	value, err := driver.Retrieve(ctx, key, opts).Get(ctx)
//	collector.ObserveOperation("retrieve", "example.Person", timer.Stop(), err)
//
//	// Cache outcomes
//	collector.CacheLookup("example.Person", metrics.CacheHit)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup outcomes used as the result label.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheTimeout = "timeout"
	CacheError   = "error"
)

// Collector records metrics for one component. Each component should create
// its own collector.
type Collector struct {
	name    string
	enabled bool
}

// NewCollector creates a new metrics collector for a component.
// The name parameter identifies the component in metrics labels.
func NewCollector(name string) *Collector {
	return &Collector{name: name, enabled: true}
}

// Disabled returns a collector that records nothing.
func Disabled(name string) *Collector {
	return &Collector{name: name}
}

// Name returns the component label.
func (c *Collector) Name() string {
	return c.name
}

// ObserveOperation records the outcome and latency of one persistence operation.
func (c *Collector) ObserveOperation(operation, model string, elapsed time.Duration, err error) {
	if c == nil || !c.enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	OperationsTotal.WithLabelValues(c.name, operation, model, status).Inc()
	OperationLatency.WithLabelValues(c.name, operation).Observe(elapsed.Seconds())
}

// CacheLookup records one cache lookup outcome.
func (c *Collector) CacheLookup(model, result string) {
	if c == nil || !c.enabled {
		return
	}
	CacheLookups.WithLabelValues(model, result).Inc()
}

// CacheBackfill records one backfill attempt.
func (c *Collector) CacheBackfill(model string, err error) {
	if c == nil || !c.enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	CacheBackfills.WithLabelValues(model, status).Inc()
}

// CacheSize publishes the current entry count and byte size of a cache.
func (c *Collector) CacheSize(entries int, bytes int64) {
	if c == nil || !c.enabled {
		return
	}
	CacheEntries.WithLabelValues(c.name).Set(float64(entries))
	CacheBytes.WithLabelValues(c.name).Set(float64(bytes))
}

// FieldDropped records a column omitted from a decoded record.
func (c *Collector) FieldDropped(model, column string) {
	if c == nil || !c.enabled {
		return
	}
	DroppedFields.WithLabelValues(model, column).Inc()
}

// AdaptersCached publishes the number of adapters held by a manager.
func (c *Collector) AdaptersCached(target string, n int) {
	if c == nil || !c.enabled {
		return
	}
	CachedAdapters.WithLabelValues(target).Set(float64(n))
}

var (
	// OperationsTotal counts persistence operations.
	// Labels: component, operation (retrieve/persist/delete), model, status (success/failure)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_operations_total",
			Help: "Total number of persistence operations",
		},
		[]string{"component", "operation", "model", "status"},
	)

	// OperationLatency tracks the distribution of operation latencies in seconds.
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "strata_operation_latency_seconds",
			Help: "Persistence operation latency in seconds",
			Buckets: []float64{
				0.0001, // 100μs - cache hits
				0.001,  // 1ms
				0.01,   // 10ms - local stores
				0.1,    // 100ms - remote point reads
				1,      // 1s
				10,     // 10s
				120,    // read timeout
			},
		},
		[]string{"component", "operation"},
	)

	// CacheLookups counts cache lookups by result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"model", "result"},
	)

	// CacheBackfills counts read-miss backfills into the cache.
	CacheBackfills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_cache_backfills_total",
			Help: "Total number of cache backfills",
		},
		[]string{"model", "status"},
	)

	// CacheEntries tracks the number of live cache entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_cache_entries",
			Help: "Number of entries held by the cache",
		},
		[]string{"cache"},
	)

	// CacheBytes tracks the encoded size of cache contents
	CacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_cache_bytes",
			Help: "Compressed bytes held by the cache",
		},
		[]string{"cache"},
	)

	// DroppedFields counts columns dropped on a read type mismatch.
	DroppedFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_decode_dropped_fields_total",
			Help: "Columns dropped while decoding rows due to type mismatches",
		},
		[]string{"model", "column"},
	)

	// CachedAdapters tracks adapters held per manager
	CachedAdapters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_manager_adapters",
			Help: "Number of adapters cached by a manager",
		},
		[]string{"target"},
	)
)

// Timer measures the latency of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// Stop returns the elapsed duration since NewTimer. It can be called more
// than once.
func (t Timer) Stop() time.Duration {
	return time.Since(t.start)
}
