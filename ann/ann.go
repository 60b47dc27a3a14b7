// Package ann defines the contract every approximate-nearest-neighbor
// backend satisfies, plus the process-wide registry that maps backend names
// to factories.
//
// Backends operate in distance space: Search results are ordered by ascending
// distance regardless of the configured metric (inner product is negated,
// cosine is expressed as 1-similarity). The vector store converts distances
// back to caller-facing scores.
package ann

import (
	"time"

	"github.com/vexdb/vexdb/core"
)

// Result is a single backend search hit.
type Result struct {
	ID       core.VectorID
	Distance float32
}

// BuildMetrics describes an index build.
type BuildMetrics struct {
	BuildTime        time.Duration
	IndexSizeBytes   uint64
	TrainedOnVectors int
	Extra            map[string]float64
}

// Backend is a pluggable ANN algorithm.
//
// Initialize must be called before any other method. Fit resets the
// backend's content and trains its structure from the given entries;
// searchable content is subsequently supplied via Add. For backends without
// a training step Fit is a plain reset. After a successful Fit, IsTrained
// reports true.
type Backend interface {
	// Identity, constant strings.
	Name() string
	Version() string
	Description() string

	// Capabilities.
	SupportedMetrics() []core.Metric
	SupportsIncrementalAdd() bool
	SupportsDelete() bool
	SupportsRangeQuery() bool

	// Initialize prepares internal state from the database config.
	Initialize(cfg core.Config) error

	// Fit discards existing content and trains the index structure from
	// the given entries.
	Fit(entries []core.VectorEntry, buildParams Params) (*BuildMetrics, error)

	// Add extends the index incrementally. Returns core.ErrUnsupported
	// when SupportsIncrementalAdd is false.
	Add(entries []core.VectorEntry) error

	// Remove invalidates the listed ids. Returns core.ErrUnsupported when
	// SupportsDelete is false.
	Remove(ids []core.VectorID) error

	// Search returns up to k results ordered by ascending distance.
	Search(query []float32, k int, queryParams Params) ([]Result, error)

	// BatchSearch is the per-query equivalent of Search, order preserved.
	BatchSearch(queries [][]float32, k int, queryParams Params) ([][]Result, error)

	// RangeSearch returns every entry within radius (distance space),
	// ordered by ascending distance. Returns core.ErrUnsupported when
	// SupportsRangeQuery is false.
	RangeSearch(query []float32, radius float32, queryParams Params) ([]Result, error)

	// Save and Load serialize backend-private state. They may be no-ops;
	// the vector store rebuilds from canonical storage when Load cannot
	// restore a usable index.
	Save(path string) error
	Load(path string) error

	// IsTrained reports whether Search is legal.
	IsTrained() bool

	// Count returns the number of live (searchable) entries.
	Count() int

	// Stats returns an opaque metric map for observability.
	Stats() map[string]float64
}

// Factory constructs backends and supplies their default parameters.
type Factory interface {
	New() Backend
	DefaultBuildParams() Params
	DefaultQueryParams() Params
}

// FactoryFunc adapts a constructor function into a Factory with empty
// default parameters.
type FactoryFunc func() Backend

// New implements Factory.
func (f FactoryFunc) New() Backend { return f() }

// DefaultBuildParams implements Factory.
func (FactoryFunc) DefaultBuildParams() Params { return Params{} }

// DefaultQueryParams implements Factory.
func (FactoryFunc) DefaultQueryParams() Params { return Params{} }

// SupportsMetric reports whether b can serve metric m.
func SupportsMetric(b Backend, m core.Metric) bool {
	for _, sm := range b.SupportedMetrics() {
		if sm == m {
			return true
		}
	}
	return false
}
