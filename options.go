package vexdb

import (
	"log/slog"

	"github.com/vexdb/vexdb/query"
	"github.com/vexdb/vexdb/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	textScorer       query.TextScorer
	overfetchFactor  int
	overfetchCeiling int
	resources        *resource.Controller
}

// Option configures database construction and load behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel installs a text logger at the given level.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
//
// Example:
//
//	metrics := &vexdb.BasicMetricsCollector{}
//	db, _ := vexdb.New(cfg, vexdb.WithMetricsCollector(metrics))
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithTextScorer wires the text scorer used by hybrid search, typically a
// bm25.MemoryIndex. Without one, hybrid search reduces to plain k-NN.
func WithTextScorer(ts query.TextScorer) Option {
	return func(o *options) {
		o.textScorer = ts
	}
}

// WithOverfetch tunes the filtered-search overfetch factor and ceiling.
func WithOverfetch(factor, ceiling int) Option {
	return func(o *options) {
		o.overfetchFactor = factor
		o.overfetchCeiling = ceiling
	}
}

// WithResourceConfig bounds snapshot transfer concurrency and IO throughput.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = resource.NewController(cfg)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		overfetchFactor:  query.DefaultOverfetchFactor,
		overfetchCeiling: query.DefaultOverfetchCeiling,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
