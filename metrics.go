package vexdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics. Implement it to integrate
// with a monitoring system; the promstats package provides a Prometheus
// implementation.
type MetricsCollector interface {
	// RecordAdd is called after each add operation.
	RecordAdd(duration time.Duration, err error)

	// RecordBatchAdd is called after each batch add; count is the number
	// of vectors attempted.
	RecordBatchAdd(count int, duration time.Duration, err error)

	// RecordSearch is called after each search operation with the
	// requested k.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordRemove is called after each remove operation.
	RecordRemove(duration time.Duration, err error)

	// RecordBuild is called after each index build or train.
	RecordBuild(size int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, error)           {}
func (NoopMetricsCollector) RecordBatchAdd(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)        {}
func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)    {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for tests
// and debugging without an external monitoring system.
type BasicMetricsCollector struct {
	AddCount       atomic.Int64
	AddErrors      atomic.Int64
	AddTotalNanos  atomic.Int64
	BatchAddCount  atomic.Int64
	BatchAddItems  atomic.Int64
	SearchCount    atomic.Int64
	SearchErrors   atomic.Int64
	SearchNanos    atomic.Int64
	RemoveCount    atomic.Int64
	RemoveErrors   atomic.Int64
	BuildCount     atomic.Int64
	BuildErrors    atomic.Int64
	BuildLastNanos atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordBatchAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchAdd(count int, duration time.Duration, err error) {
	b.BatchAddCount.Add(1)
	b.BatchAddItems.Add(int64(count))
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(size int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildLastNanos.Store(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}
