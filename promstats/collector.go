// Package promstats provides a Prometheus-backed implementation of the
// vexdb.MetricsCollector interface.
package promstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements vexdb.MetricsCollector with Prometheus metrics.
type Collector struct {
	addTotal      *prometheus.CounterVec
	batchAddTotal prometheus.Counter
	batchAddItems prometheus.Counter
	searchTotal   *prometheus.CounterVec
	removeTotal   *prometheus.CounterVec
	buildTotal    *prometheus.CounterVec

	addDuration    prometheus.Histogram
	searchDuration prometheus.Histogram
	buildDuration  prometheus.Histogram
	searchK        prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		addTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "add_total",
			Help:      "Vector add operations.",
		}, []string{"status"}),
		batchAddTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "batch_add_total",
			Help:      "Batch add operations.",
		}),
		batchAddItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "batch_add_items_total",
			Help:      "Vectors attempted through batch adds.",
		}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "search_total",
			Help:      "Search operations.",
		}, []string{"status"}),
		removeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "remove_total",
			Help:      "Remove operations.",
		}, []string{"status"}),
		buildTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vexdb",
			Name:      "build_total",
			Help:      "Index build and train operations.",
		}, []string{"status"}),
		addDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vexdb",
			Name:      "add_duration_seconds",
			Help:      "Latency of add operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vexdb",
			Name:      "search_duration_seconds",
			Help:      "Latency of search operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vexdb",
			Name:      "build_duration_seconds",
			Help:      "Latency of index builds.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
		searchK: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vexdb",
			Name:      "search_k",
			Help:      "Requested neighbor counts.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
	}

	for _, m := range []prometheus.Collector{
		c.addTotal, c.batchAddTotal, c.batchAddItems, c.searchTotal,
		c.removeTotal, c.buildTotal, c.addDuration, c.searchDuration,
		c.buildDuration, c.searchK,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAdd implements vexdb.MetricsCollector.
func (c *Collector) RecordAdd(duration time.Duration, err error) {
	c.addTotal.WithLabelValues(status(err)).Inc()
	c.addDuration.Observe(duration.Seconds())
}

// RecordBatchAdd implements vexdb.MetricsCollector.
func (c *Collector) RecordBatchAdd(count int, duration time.Duration, err error) {
	c.batchAddTotal.Inc()
	c.batchAddItems.Add(float64(count))
	c.addDuration.Observe(duration.Seconds())
}

// RecordSearch implements vexdb.MetricsCollector.
func (c *Collector) RecordSearch(k int, duration time.Duration, err error) {
	c.searchTotal.WithLabelValues(status(err)).Inc()
	c.searchDuration.Observe(duration.Seconds())
	c.searchK.Observe(float64(k))
}

// RecordRemove implements vexdb.MetricsCollector.
func (c *Collector) RecordRemove(duration time.Duration, err error) {
	c.removeTotal.WithLabelValues(status(err)).Inc()
}

// RecordBuild implements vexdb.MetricsCollector.
func (c *Collector) RecordBuild(size int, duration time.Duration, err error) {
	c.buildTotal.WithLabelValues(status(err)).Inc()
	c.buildDuration.Observe(duration.Seconds())
}
